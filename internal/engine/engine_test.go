package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/db"
	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/engine/auth"
	"labflow/internal/mail"
	"labflow/internal/migrate"
	"labflow/internal/repo"
)

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) subjects() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.sent))
	for i, m := range o.sent {
		out[i] = m.Subject
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Mail   *outbox
	Admin  auth.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Dialect: db.SQLite, Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))

	cfg := &config.Config{Env: config.EnvTest}
	cfg.JWT.Secret = "engine-test-secret"
	cfg.JWT.ExpiresIn = time.Hour
	cfg.JWT.Issuer = "labflow"
	cfg.Reports.Dir = dir + "/reports"

	eng := engine.New(conn, db.SQLite, cfg)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	var tick int64
	eng.Now = func() time.Time { return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second) }
	box := &outbox{}
	eng.Mail = box
	ctx := context.Background()
	admin, created, err := eng.EnsureAdmin(ctx, "admin@lab.test", "admin-pass", "Admin")
	require.NoError(t, err)
	require.True(t, created)
	return testEnv{Engine: eng, Ctx: ctx, Mail: box, Admin: identity(admin)}
}

func identity(u domain.User) auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: auth.Role(u.Role)}
}

func (env testEnv) user(t *testing.T, role auth.Role, name string) auth.Identity {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.CreateUserInput{
		Name:     name,
		Email:    strings.ToLower(name) + "@lab.test",
		Password: "secret-pass",
		Role:     string(role),
	})
	require.NoError(t, err)
	return identity(u)
}

func (env testEnv) site(t *testing.T, director auth.Identity) domain.Site {
	t.Helper()
	s, err := env.Engine.CreateSite(env.Ctx, env.Admin, engine.CreateSiteInput{
		Name:       "North bypass",
		Location:   "km 12",
		DirectorID: director.ID,
	})
	require.NoError(t, err)
	return s
}

func assertForbidden(t *testing.T, err error) {
	t.Helper()
	var fe auth.ForbiddenError
	assert.True(t, errors.As(err, &fe), "want ForbiddenError, got %v", err)
}

func assertValidation(t *testing.T, err error) {
	t.Helper()
	var ve engine.ValidationError
	assert.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
}

func assertTransition(t *testing.T, err error) {
	t.Helper()
	var te engine.TransitionError
	assert.True(t, errors.As(err, &te), "want TransitionError, got %v", err)
}

func TestMachineTables(t *testing.T) {
	cases := []struct {
		machine engine.Machine
		allowed map[[2]string]bool
	}{
		{engine.SiteMachine, map[[2]string]bool{
			{"planned", "in_progress"}:   true,
			{"planned", "cancelled"}:     true,
			{"in_progress", "paused"}:    true,
			{"in_progress", "finished"}:  true,
			{"in_progress", "cancelled"}: true,
			{"paused", "in_progress"}:    true,
			{"paused", "cancelled"}:      true,
		}},
		{engine.RequestMachine, map[[2]string]bool{
			{"pending", "accepted"}:      true,
			{"pending", "cancelled"}:     true,
			{"accepted", "in_progress"}:  true,
			{"accepted", "cancelled"}:    true,
			{"in_progress", "finished"}:  true,
			{"in_progress", "cancelled"}: true,
		}},
		{engine.ResultMachine, map[[2]string]bool{
			{"pending", "in_progress"}:  true,
			{"in_progress", "finished"}: true,
		}},
	}
	for _, tc := range cases {
		states := tc.machine.States()
		for _, from := range states {
			for _, to := range states {
				got, err := tc.machine.Transition(from, to)
				if tc.allowed[[2]string{from, to}] {
					assert.NoError(t, err, "%s %s -> %s", tc.machine.Kind, from, to)
					assert.Equal(t, to, got)
					continue
				}
				assertTransition(t, err)
			}
		}
	}
}

func TestSiteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	other := env.user(t, auth.Director, "Omar")
	s := env.site(t, director)
	assert.Equal(t, domain.SitePlanned, s.Status)

	_, err := env.Engine.SetSiteStatus(env.Ctx, director, s.ID, domain.SiteFinished)
	assertTransition(t, err)

	_, err = env.Engine.SetSiteStatus(env.Ctx, other, s.ID, domain.SiteInProgress)
	assertForbidden(t, err)

	s, err = env.Engine.SetSiteStatus(env.Ctx, director, s.ID, domain.SiteInProgress)
	require.NoError(t, err)
	s, err = env.Engine.SetSiteStatus(env.Ctx, env.Admin, s.ID, domain.SiteFinished)
	require.NoError(t, err)
	require.NotNil(t, s.ActualEndDate)
	assert.True(t, strings.HasPrefix(*s.ActualEndDate, "2024-01-15T09:"))

	name := "renamed"
	_, err = env.Engine.UpdateSite(env.Ctx, env.Admin, s.ID, engine.UpdateSiteInput{Name: &name})
	assertValidation(t, err)
}

func TestUpdateSiteFields(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	s := env.site(t, director)

	blank := "   "
	_, err := env.Engine.UpdateSite(env.Ctx, director, s.ID, engine.UpdateSiteInput{Location: &blank})
	assertValidation(t, err)

	name, client, contract := "  South ring  ", "City works", ""
	got, err := env.Engine.UpdateSite(env.Ctx, director, s.ID, engine.UpdateSiteInput{
		Name:           &name,
		Client:         &client,
		ContractNumber: &contract,
	})
	require.NoError(t, err)
	assert.Equal(t, "South ring", got.Name)
	assert.Equal(t, "km 12", got.Location)
	assert.Equal(t, "City works", got.Client)
	assert.Empty(t, got.ContractNumber)
}

func TestCreateSiteRequiresDirector(t *testing.T) {
	env := newTestEnv(t)
	lab := env.user(t, auth.Laboratorist, "Lea")
	_, err := env.Engine.CreateSite(env.Ctx, env.Admin, engine.CreateSiteInput{Name: "x", Location: "y", DirectorID: lab.ID})
	assertValidation(t, err)

	director := env.user(t, auth.Director, "Dana")
	_, err = env.Engine.CreateSite(env.Ctx, director, engine.CreateSiteInput{Name: "x", Location: "y", DirectorID: director.ID})
	assertForbidden(t, err)
}

func TestRoleGateRunsBeforeLookup(t *testing.T) {
	env := newTestEnv(t)
	customer := env.user(t, auth.Customer, "Carl")
	_, err := env.Engine.AcceptRequest(env.Ctx, customer, "missing")
	assertForbidden(t, err)

	lab := env.user(t, auth.Laboratorist, "Lea")
	_, err = env.Engine.AcceptRequest(env.Ctx, lab, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRequestCodesAreSequential(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	s := env.site(t, director)

	first, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	require.NoError(t, err)
	second, err := env.Engine.CreateRequest(env.Ctx, director, engine.CreateRequestInput{SiteID: s.ID, TestType: "concrete", Priority: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, "SOL-202401-0001", first.Code)
	assert.Equal(t, "SOL-202401-0002", second.Code)
	assert.Equal(t, "normal", first.Priority)
	assert.Equal(t, domain.RequestPending, first.Status)

	_, err = env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: "nope", TestType: "soil"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "granite"})
	assertValidation(t, err)

	lab := env.user(t, auth.Laboratorist, "Lea")
	_, err = env.Engine.CreateRequest(env.Ctx, lab, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	assertForbidden(t, err)
}

func TestRequestCodesPassTenThousand(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	s := env.site(t, director)
	err := env.Engine.Repo.InsertRequest(env.Ctx, nil, domain.TestRequest{
		ID:          "seeded",
		Code:        "SOL-202401-9999",
		SiteID:      s.ID,
		TestType:    "soil",
		Priority:    "normal",
		Status:      domain.RequestPending,
		RequestedBy: director.ID,
		CreatedAt:   "2024-01-15T09:00:00Z",
		UpdatedAt:   "2024-01-15T09:00:00Z",
	})
	require.NoError(t, err)

	for _, want := range []string{"SOL-202401-10000", "SOL-202401-10001"} {
		got, err := env.Engine.CreateRequest(env.Ctx, director, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
		require.NoError(t, err)
		assert.Equal(t, want, got.Code)
	}
}

func TestAcceptRequiresTesterRole(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	supervisor := env.user(t, auth.Supervisor, "Sam")
	s := env.site(t, director)
	req, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	require.NoError(t, err)

	for _, actor := range []auth.Identity{director, customer} {
		_, err := env.Engine.AcceptRequest(env.Ctx, actor, req.ID)
		assertForbidden(t, err)
	}
	got, err := env.Engine.GetRequest(env.Ctx, customer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, got.Status)

	_, err = env.Engine.SetRequestStatus(env.Ctx, lab, req.ID, domain.RequestAccepted)
	assertValidation(t, err)

	accepted, err := env.Engine.AcceptRequest(env.Ctx, lab, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedBy)
	assert.Equal(t, lab.ID, *accepted.AcceptedBy)
	assert.Contains(t, env.Mail.subjects(), "Test request SOL-202401-0001 accepted")

	_, err = env.Engine.AcceptRequest(env.Ctx, supervisor, req.ID)
	assertTransition(t, err)

	_, err = env.Engine.SetRequestStatus(env.Ctx, lab, req.ID, domain.RequestFinished)
	assertTransition(t, err)
}

func TestResultGuardsRequestRemoval(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	s := env.site(t, director)

	withResult, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "concrete"})
	require.NoError(t, err)
	_, err = env.Engine.AcceptRequest(env.Ctx, lab, withResult.ID)
	require.NoError(t, err)
	_, err = env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: withResult.ID})
	require.NoError(t, err)

	_, err = env.Engine.SetRequestStatus(env.Ctx, lab, withResult.ID, domain.RequestCancelled)
	assertValidation(t, err)
	err = env.Engine.DeleteRequest(env.Ctx, env.Admin, withResult.ID)
	assertValidation(t, err)

	pending, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteRequest(env.Ctx, director, pending.ID))
	_, err = env.Engine.GetRequest(env.Ctx, customer, pending.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	cancelled, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "asphalt"})
	require.NoError(t, err)
	_, err = env.Engine.SetRequestStatus(env.Ctx, lab, cancelled.ID, domain.RequestCancelled)
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteRequest(env.Ctx, env.Admin, cancelled.ID))

	err = env.Engine.DeleteSite(env.Ctx, env.Admin, s.ID)
	assertValidation(t, err)
}

func TestResultLifecycleFinishesRequest(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	otherLab := env.user(t, auth.Laboratorist, "Liam")
	s := env.site(t, director)
	req, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	require.NoError(t, err)

	_, err = env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: req.ID})
	assertValidation(t, err)

	_, err = env.Engine.AcceptRequest(env.Ctx, lab, req.ID)
	require.NoError(t, err)
	res, err := env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.Soil, res.Kind)
	assert.Equal(t, domain.ResultPending, res.Status)
	got, err := env.Engine.GetRequest(env.Ctx, customer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInProgress, got.Status)

	_, err = env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: req.ID})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	wrongKind := domain.EmptyMeasurements(domain.Concrete)
	_, err = env.Engine.UpdateResult(env.Ctx, lab, res.ID, engine.UpdateResultInput{Measurements: &wrongKind})
	assertValidation(t, err)

	ll, pl := 42.0, 20.0
	approved := "approved"
	_, err = env.Engine.UpdateResult(env.Ctx, otherLab, res.ID, engine.UpdateResultInput{Verdict: &approved})
	assertForbidden(t, err)

	_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, domain.ResultFinished)
	assertTransition(t, err)
	_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, domain.ResultInProgress)
	require.NoError(t, err)
	_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, domain.ResultFinished)
	assertValidation(t, err)

	updated, err := env.Engine.UpdateResult(env.Ctx, lab, res.ID, engine.UpdateResultInput{
		Measurements: &domain.Measurements{Soil: &domain.SoilMeasurements{LiquidLimit: &ll, PlasticLimit: &pl}},
		Verdict:      &approved,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Measurements.Soil.PlasticityIndex)
	assert.Equal(t, 22.0, *updated.Measurements.Soil.PlasticityIndex)

	finished, err := env.Engine.SetResultStatus(env.Ctx, env.Admin, res.ID, domain.ResultFinished)
	require.NoError(t, err)
	assert.NotNil(t, finished.FinishedAt)
	got, err = env.Engine.GetRequest(env.Ctx, customer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFinished, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Contains(t, env.Mail.subjects(), "Test request SOL-202401-0001 finished")

	_, err = env.Engine.UpdateResult(env.Ctx, lab, res.ID, engine.UpdateResultInput{Verdict: &approved})
	assertValidation(t, err)
}

func TestReportVersions(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	s := env.site(t, director)
	req, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "asphalt"})
	require.NoError(t, err)
	_, err = env.Engine.AcceptRequest(env.Ctx, lab, req.ID)
	require.NoError(t, err)
	res, err := env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: req.ID})
	require.NoError(t, err)

	_, err = env.Engine.GenerateReport(env.Ctx, lab, res.ID)
	assertValidation(t, err)
	_, err = env.Engine.Report(env.Ctx, customer, res.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	verdict := "conditional"
	_, err = env.Engine.UpdateResult(env.Ctx, lab, res.ID, engine.UpdateResultInput{Verdict: &verdict})
	require.NoError(t, err)
	_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, domain.ResultInProgress)
	require.NoError(t, err)
	_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, domain.ResultFinished)
	require.NoError(t, err)

	_, err = env.Engine.GenerateReport(env.Ctx, customer, res.ID)
	assertForbidden(t, err)
	first, err := env.Engine.GenerateReport(env.Ctx, lab, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReportVersion)
	second, err := env.Engine.GenerateReport(env.Ctx, env.Admin, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ReportVersion)

	file, err := env.Engine.Report(env.Ctx, customer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, file.Version)
	assert.True(t, strings.HasSuffix(file.Name, "-v2.xlsx"))
	assert.NotEmpty(t, file.Data)
}

func TestReportOwnershipAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	other := env.user(t, auth.Laboratorist, "Theo")
	sup := env.user(t, auth.Supervisor, "Sam")
	s := env.site(t, director)
	req, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
	require.NoError(t, err)
	_, err = env.Engine.AcceptRequest(env.Ctx, lab, req.ID)
	require.NoError(t, err)
	res, err := env.Engine.CreateResult(env.Ctx, lab, engine.CreateResultInput{RequestID: req.ID})
	require.NoError(t, err)
	verdict := "approved"
	_, err = env.Engine.UpdateResult(env.Ctx, lab, res.ID, engine.UpdateResultInput{Verdict: &verdict})
	require.NoError(t, err)
	for _, st := range []string{domain.ResultInProgress, domain.ResultFinished} {
		_, err = env.Engine.SetResultStatus(env.Ctx, lab, res.ID, st)
		require.NoError(t, err)
	}

	_, err = env.Engine.GenerateReport(env.Ctx, other, res.ID)
	assertForbidden(t, err)
	got, err := env.Engine.GenerateReport(env.Ctx, sup, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReportVersion)

	_, err = env.Engine.DB.Exec(`CREATE TRIGGER reject_report BEFORE INSERT ON events
		WHEN NEW.type = 'result.report_generated' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)
	_, err = env.Engine.GenerateReport(env.Ctx, lab, res.ID)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(env.Engine.Reports.Dir, res.ID, "v2.xlsx"))
	assert.FileExists(t, filepath.Join(env.Engine.Reports.Dir, res.ID, "v1.xlsx"))

	file, err := env.Engine.Report(env.Ctx, customer, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, file.Version)
}

func TestEquipmentMovements(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	supervisor := env.user(t, auth.Supervisor, "Sam")
	lab := env.user(t, auth.Laboratorist, "Lea")
	s := env.site(t, director)

	eq, err := env.Engine.CreateEquipment(env.Ctx, supervisor, engine.CreateEquipmentInput{AssetCode: "EQ-001", Name: "Press", Category: "laboratory"})
	require.NoError(t, err)
	assert.Equal(t, domain.EquipmentOperational, eq.Status)
	_, err = env.Engine.CreateEquipment(env.Ctx, env.Admin, engine.CreateEquipmentInput{AssetCode: "EQ-001", Name: "Copy", Category: "field"})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
	_, err = env.Engine.CreateEquipment(env.Ctx, lab, engine.CreateEquipmentInput{AssetCode: "EQ-002", Name: "Oven", Category: "laboratory"})
	assertForbidden(t, err)

	eq, err = env.Engine.AssignEquipment(env.Ctx, supervisor, eq.ID, s.ID, "site trial")
	require.NoError(t, err)
	require.NotNil(t, eq.SiteID)
	assert.Equal(t, s.ID, *eq.SiteID)

	err = env.Engine.DeleteEquipment(env.Ctx, env.Admin, eq.ID)
	assertValidation(t, err)
	err = env.Engine.DeleteSite(env.Ctx, env.Admin, s.ID)
	assertValidation(t, err)

	_, err = env.Engine.SetEquipmentStatus(env.Ctx, lab, eq.ID, domain.EquipmentMaintenance, "calibration")
	require.NoError(t, err)
	_, err = env.Engine.ReturnEquipment(env.Ctx, supervisor, eq.ID, "")
	require.NoError(t, err)
	_, err = env.Engine.AssignEquipment(env.Ctx, supervisor, eq.ID, s.ID, "")
	assertValidation(t, err)
	_, err = env.Engine.SetEquipmentStatus(env.Ctx, lab, eq.ID, domain.EquipmentOperational, "")
	require.NoError(t, err)

	available, err := env.Engine.ListEquipment(env.Ctx, lab, repo.EquipmentFilters{Available: true})
	require.NoError(t, err)
	require.Len(t, available, 1)

	require.NoError(t, env.Engine.DeleteEquipment(env.Ctx, env.Admin, eq.ID))
	_, err = env.Engine.GetEquipment(env.Ctx, lab, eq.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	history, err := env.Engine.EquipmentHistory(env.Ctx, lab, eq.ID)
	require.NoError(t, err)
	kinds := make([]string, len(history))
	for i, h := range history {
		kinds[i] = h.Kind
	}
	assert.Equal(t, []string{domain.HistoryAssignment, domain.HistoryMaintenance, domain.HistoryReturn, domain.HistoryRepair}, kinds)

	_, err = env.Engine.EquipmentHistory(env.Ctx, lab, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSessionsAndRevocation(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.Engine.Register(env.Ctx, engine.RegisterInput{Name: "Carl", Email: "Carl@Lab.test", Password: "secret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "customer", sess.User.Role)
	assert.Equal(t, "carl@lab.test", sess.User.Email)

	_, err = env.Engine.Register(env.Ctx, engine.RegisterInput{Name: "Carl", Email: "carl@lab.test", Password: "secret-pass"})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	_, err = env.Engine.Login(env.Ctx, "carl@lab.test", "wrong-pass")
	assert.True(t, auth.IsAuthenticationFailure(err))

	login, err := env.Engine.Login(env.Ctx, "carl@lab.test", "secret-pass")
	require.NoError(t, err)
	id, claims, err := env.Engine.Authenticate(env.Ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, id.ID)

	require.NoError(t, env.Engine.Logout(env.Ctx, id, claims))
	_, _, err = env.Engine.Authenticate(env.Ctx, login.Token)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	_, err = env.Engine.SetUserActive(env.Ctx, env.Admin, id.ID, false)
	require.NoError(t, err)
	_, _, err = env.Engine.Authenticate(env.Ctx, sess.Token)
	assert.True(t, auth.IsAuthenticationFailure(err))
	_, err = env.Engine.SetUserActive(env.Ctx, env.Admin, env.Admin.ID, false)
	assertValidation(t, err)
}

func TestPasswordResetIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	customer := env.user(t, auth.Customer, "Carl")
	require.NoError(t, env.Engine.RequestPasswordReset(env.Ctx, "nobody@lab.test"))
	require.NoError(t, env.Engine.RequestPasswordReset(env.Ctx, customer.Email))
	assert.Contains(t, env.Mail.subjects(), "Password reset")

	token, err := env.Engine.Tokens.IssueReset(customer)
	require.NoError(t, err)
	require.NoError(t, env.Engine.ConfirmPasswordReset(env.Ctx, token, "fresh-pass"))
	err = env.Engine.ConfirmPasswordReset(env.Ctx, token, "again-pass")
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	session, err := env.Engine.Login(env.Ctx, customer.Email, "fresh-pass")
	require.NoError(t, err)
	err = env.Engine.ConfirmPasswordReset(env.Ctx, session.Token, "sneaky-pass")
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestUserUpdateOwnership(t *testing.T) {
	env := newTestEnv(t)
	carl := env.user(t, auth.Customer, "Carl")
	cleo := env.user(t, auth.Customer, "Cleo")

	name := "Carl Jr"
	u, err := env.Engine.UpdateUser(env.Ctx, carl, carl.ID, engine.UpdateUserInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, u.Name)

	_, err = env.Engine.UpdateUser(env.Ctx, cleo, carl.ID, engine.UpdateUserInput{Name: &name})
	assertForbidden(t, err)

	role := "administrator"
	_, err = env.Engine.UpdateUser(env.Ctx, carl, carl.ID, engine.UpdateUserInput{Role: &role})
	assertForbidden(t, err)

	_, err = env.Engine.ListUsers(env.Ctx, carl, repo.UserFilters{})
	assertForbidden(t, err)

	stats, err := env.Engine.UserStats(env.Ctx, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActive)
	assert.Equal(t, 2, stats.ByRole["customer"])
}

func TestManagerLinksFormATree(t *testing.T) {
	env := newTestEnv(t)
	sup := env.user(t, auth.Supervisor, "Sam")
	lab := env.user(t, auth.Laboratorist, "Lea")
	tech := env.user(t, auth.Laboratorist, "Theo")

	_, err := env.Engine.UpdateUser(env.Ctx, env.Admin, lab.ID, engine.UpdateUserInput{ManagerID: &sup.ID})
	require.NoError(t, err)
	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, sup.ID, engine.UpdateUserInput{ManagerID: &lab.ID})
	assertValidation(t, err)

	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, tech.ID, engine.UpdateUserInput{ManagerID: &lab.ID})
	require.NoError(t, err)
	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, sup.ID, engine.UpdateUserInput{ManagerID: &tech.ID})
	assertValidation(t, err)
	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, sup.ID, engine.UpdateUserInput{ManagerID: &sup.ID})
	assertValidation(t, err)

	got, err := env.Engine.GetUser(env.Ctx, env.Admin, sup.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ManagerID)
}

func TestRequestStatsPercentages(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	customer := env.user(t, auth.Customer, "Carl")
	lab := env.user(t, auth.Laboratorist, "Lea")
	s := env.site(t, director)
	var ids []string
	for i := 0; i < 3; i++ {
		r, err := env.Engine.CreateRequest(env.Ctx, customer, engine.CreateRequestInput{SiteID: s.ID, TestType: "soil"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err := env.Engine.AcceptRequest(env.Ctx, lab, ids[0])
	require.NoError(t, err)

	stats, err := env.Engine.RequestStats(env.Ctx, customer, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["pending"])
	assert.Equal(t, 66.67, stats.Percentages["pending"])
	assert.Equal(t, 33.33, stats.Percentages["accepted"])
	assert.Equal(t, 0.0, stats.Percentages["finished"])
}

func TestEventsRecordMutations(t *testing.T) {
	env := newTestEnv(t)
	director := env.user(t, auth.Director, "Dana")
	s := env.site(t, director)
	_, err := env.Engine.SetSiteStatus(env.Ctx, director, s.ID, domain.SiteInProgress)
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, env.Admin, repo.EventFilters{EntityKind: "site", EntityID: s.ID})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "site.status_changed", evts[0].Type)
	assert.Equal(t, "site.created", evts[1].Type)

	_, err = env.Engine.ListEvents(env.Ctx, director, repo.EventFilters{})
	assertForbidden(t, err)
}
