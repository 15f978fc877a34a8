package server

import (
	"labflow/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Name     string `json:"name" minLength:"1"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"6"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password" minLength:"6"`
}

type CreateUserRequest struct {
	Name      string `json:"name" minLength:"1"`
	Email     string `json:"email" format:"email"`
	Password  string `json:"password" minLength:"6"`
	Role      string `json:"role" enum:"administrator,supervisor,director,laboratorist,customer"`
	ManagerID string `json:"manager_id,omitempty"`
}

type UpdateUserRequest struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Role      *string `json:"role,omitempty" enum:"administrator,supervisor,director,laboratorist,customer"`
	ManagerID *string `json:"manager_id,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" minLength:"6"`
}

type CreateSiteRequest struct {
	Code             string  `json:"code,omitempty"`
	Name             string  `json:"name" minLength:"1"`
	Location         string  `json:"location" minLength:"1"`
	Client           string  `json:"client,omitempty"`
	ContractNumber   string  `json:"contract_number,omitempty"`
	Description      string  `json:"description,omitempty"`
	DirectorID       string  `json:"director_id"`
	StartDate        *string `json:"start_date,omitempty" doc:"YYYY-MM-DD"`
	EstimatedEndDate *string `json:"estimated_end_date,omitempty" doc:"YYYY-MM-DD"`
}

type UpdateSiteRequest struct {
	Code             *string `json:"code,omitempty"`
	Name             *string `json:"name,omitempty"`
	Location         *string `json:"location,omitempty"`
	Client           *string `json:"client,omitempty"`
	ContractNumber   *string `json:"contract_number,omitempty"`
	Description      *string `json:"description,omitempty"`
	DirectorID       *string `json:"director_id,omitempty"`
	StartDate        *string `json:"start_date,omitempty"`
	EstimatedEndDate *string `json:"estimated_end_date,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type CreateTestRequestRequest struct {
	SiteID      string  `json:"site_id"`
	TestType    string  `json:"test_type" enum:"soil,concrete,asphalt"`
	Priority    string  `json:"priority,omitempty" enum:"normal,high,urgent"`
	Description string  `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty" doc:"YYYY-MM-DD"`
}

type UpdateTestRequestRequest struct {
	SiteID      *string `json:"site_id,omitempty"`
	TestType    *string `json:"test_type,omitempty" enum:"soil,concrete,asphalt"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

type SetPriorityRequest struct {
	Priority string `json:"priority" enum:"normal,high,urgent"`
}

type CreateResultRequest struct {
	RequestID    string               `json:"request_id"`
	Measurements *domain.Measurements `json:"measurements,omitempty"`
	Observations string               `json:"observations,omitempty"`
}

type UpdateResultRequest struct {
	Measurements *domain.Measurements `json:"measurements,omitempty"`
	Verdict      *string              `json:"verdict,omitempty" enum:"pending,approved,rejected,conditional"`
	Observations *string              `json:"observations,omitempty"`
}

type CreateEquipmentRequest struct {
	AssetCode       string  `json:"asset_code" minLength:"1"`
	Name            string  `json:"name" minLength:"1"`
	Category        string  `json:"category" enum:"laboratory,field,office,vehicle"`
	Brand           string  `json:"brand,omitempty"`
	Model           string  `json:"model,omitempty"`
	SerialNumber    string  `json:"serial_number,omitempty"`
	Location        string  `json:"location,omitempty"`
	NextMaintenance *string `json:"next_maintenance,omitempty" doc:"YYYY-MM-DD"`
}

type UpdateEquipmentRequest struct {
	AssetCode       *string `json:"asset_code,omitempty"`
	Name            *string `json:"name,omitempty"`
	Category        *string `json:"category,omitempty" enum:"laboratory,field,office,vehicle"`
	Brand           *string `json:"brand,omitempty"`
	Model           *string `json:"model,omitempty"`
	SerialNumber    *string `json:"serial_number,omitempty"`
	Location        *string `json:"location,omitempty"`
	NextMaintenance *string `json:"next_maintenance,omitempty"`
}

type EquipmentStatusRequest struct {
	Status      string `json:"status" enum:"operational,maintenance,out_of_service"`
	Description string `json:"description,omitempty"`
}

type AssignEquipmentRequest struct {
	SiteID      string `json:"site_id"`
	Description string `json:"description,omitempty"`
}

type ReturnEquipmentRequest struct {
	Description string `json:"description,omitempty"`
}
