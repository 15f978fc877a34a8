package domain

// Site statuses.
const (
	SitePlanned    = "planned"
	SiteInProgress = "in_progress"
	SitePaused     = "paused"
	SiteFinished   = "finished"
	SiteCancelled  = "cancelled"
)

// Test request statuses.
const (
	RequestPending    = "pending"
	RequestAccepted   = "accepted"
	RequestInProgress = "in_progress"
	RequestFinished   = "finished"
	RequestCancelled  = "cancelled"
)

// Test result statuses.
const (
	ResultPending    = "pending"
	ResultInProgress = "in_progress"
	ResultFinished   = "finished"
)

// Equipment statuses.
const (
	EquipmentOperational  = "operational"
	EquipmentMaintenance  = "maintenance"
	EquipmentOutOfService = "out_of_service"
)

// Equipment history kinds.
const (
	HistoryAssignment   = "assignment"
	HistoryReturn       = "return"
	HistoryMaintenance  = "maintenance"
	HistoryStatusChange = "status_change"
	HistoryRepair       = "repair"
)

var (
	Priorities          = []string{"normal", "high", "urgent"}
	Verdicts            = []string{"pending", "approved", "rejected", "conditional"}
	EquipmentCategories = []string{"laboratory", "field", "office", "vehicle"}
	EquipmentStatuses   = []string{EquipmentOperational, EquipmentMaintenance, EquipmentOutOfService}
)

// OneOf reports whether v is in allowed.
func OneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         string  `json:"role" enum:"administrator,supervisor,director,laboratorist,customer"`
	Active       bool    `json:"active"`
	ManagerID    *string `json:"manager_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// OwnerID makes a user the owner of its own profile.
func (u User) OwnerID() string { return u.ID }

type Site struct {
	ID               string  `json:"id"`
	Code             *string `json:"code,omitempty"`
	Name             string  `json:"name"`
	Location         string  `json:"location"`
	Client           string  `json:"client,omitempty"`
	ContractNumber   string  `json:"contract_number,omitempty"`
	Description      string  `json:"description,omitempty"`
	Status           string  `json:"status" enum:"planned,in_progress,paused,finished,cancelled"`
	DirectorID       string  `json:"director_id"`
	StartDate        *string `json:"start_date,omitempty"`
	EstimatedEndDate *string `json:"estimated_end_date,omitempty"`
	ActualEndDate    *string `json:"actual_end_date,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

func (s Site) OwnerID() string { return s.DirectorID }

// Terminal reports whether the site accepts no further transitions.
func (s Site) Terminal() bool {
	return s.Status == SiteFinished || s.Status == SiteCancelled
}

type TestRequest struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	SiteID      string  `json:"site_id"`
	TestType    string  `json:"test_type" enum:"soil,concrete,asphalt"`
	Priority    string  `json:"priority" enum:"normal,high,urgent"`
	Status      string  `json:"status" enum:"pending,accepted,in_progress,finished,cancelled"`
	Description string  `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	RequestedBy string  `json:"requested_by"`
	AcceptedBy  *string `json:"accepted_by,omitempty"`
	AcceptedAt  *string `json:"accepted_at,omitempty" format:"date-time"`
	FinishedAt  *string `json:"finished_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

func (r TestRequest) Terminal() bool {
	return r.Status == RequestFinished || r.Status == RequestCancelled
}

type TestResult struct {
	ID                string       `json:"id"`
	RequestID         string       `json:"request_id"`
	PerformedBy       string       `json:"performed_by"`
	Kind              TestType     `json:"kind" enum:"soil,concrete,asphalt"`
	Measurements      Measurements `json:"measurements"`
	Status            string       `json:"status" enum:"pending,in_progress,finished"`
	Verdict           string       `json:"verdict" enum:"pending,approved,rejected,conditional"`
	Observations      string       `json:"observations,omitempty"`
	StartedAt         *string      `json:"started_at,omitempty" format:"date-time"`
	FinishedAt        *string      `json:"finished_at,omitempty" format:"date-time"`
	ReportPath        *string      `json:"report_path,omitempty"`
	ReportVersion     int          `json:"report_version"`
	ReportGeneratedAt *string      `json:"report_generated_at,omitempty" format:"date-time"`
	CreatedAt         string       `json:"created_at" format:"date-time"`
	UpdatedAt         string       `json:"updated_at" format:"date-time"`
}

func (r TestResult) OwnerID() string { return r.PerformedBy }

type Equipment struct {
	ID              string  `json:"id"`
	AssetCode       string  `json:"asset_code"`
	Name            string  `json:"name"`
	Category        string  `json:"category" enum:"laboratory,field,office,vehicle"`
	Status          string  `json:"status" enum:"operational,maintenance,out_of_service"`
	Brand           string  `json:"brand,omitempty"`
	Model           string  `json:"model,omitempty"`
	SerialNumber    string  `json:"serial_number,omitempty"`
	Location        string  `json:"location,omitempty"`
	NextMaintenance *string `json:"next_maintenance,omitempty"`
	SiteID          *string `json:"site_id,omitempty"`
	DeletedAt       *string `json:"deleted_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// InDepot reports whether the equipment is not assigned to any site.
func (e Equipment) InDepot() bool { return e.SiteID == nil }

type EquipmentHistory struct {
	ID          string  `json:"id"`
	EquipmentID string  `json:"equipment_id"`
	Kind        string  `json:"kind" enum:"assignment,return,maintenance,status_change,repair"`
	FromSiteID  *string `json:"from_site_id,omitempty"`
	ToSiteID    *string `json:"to_site_id,omitempty"`
	FromStatus  *string `json:"from_status,omitempty"`
	ToStatus    *string `json:"to_status,omitempty"`
	Description string  `json:"description,omitempty"`
	ActorID     string  `json:"actor_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// RequestStats aggregates test requests per status.
type RequestStats struct {
	Total       int                `json:"total"`
	ByStatus    map[string]int     `json:"by_status"`
	Percentages map[string]float64 `json:"percentages"`
}

// UserStats counts active users per role.
type UserStats struct {
	TotalActive int            `json:"total_active"`
	ByRole      map[string]int `json:"by_role"`
}
