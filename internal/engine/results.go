package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	"labflow/internal/repo"
	"labflow/internal/report"
)

type CreateResultInput struct {
	RequestID    string
	Measurements *domain.Measurements
	Observations string
}

type UpdateResultInput struct {
	Measurements *domain.Measurements
	Verdict      *string
	Observations *string
}

// ReportFile is a generated report ready for download.
type ReportFile struct {
	Name    string
	Version int
	Data    []byte
}

// CreateResult opens the single result of an accepted or running request.
// An accepted request moves to in_progress in the same transaction.
func (e Engine) CreateResult(ctx context.Context, actor auth.Identity, in CreateResultInput) (domain.TestResult, error) {
	var out domain.TestResult
	var moved *domain.TestRequest
	if err := auth.Require(actor, auth.Laboratorist); err != nil {
		return out, err
	}
	if err := required("request_id", in.RequestID); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		req, err := e.Repo.GetRequest(ctx, tx, in.RequestID)
		if err != nil {
			return missing("request", in.RequestID, err)
		}
		if req.Status != domain.RequestAccepted && req.Status != domain.RequestInProgress {
			return invalid("request_id", "request is "+req.Status)
		}
		exists, err := e.Repo.ResultExists(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("result for request %s: %w", req.Code, repo.ErrDuplicate)
		}
		kind := domain.TestType(req.TestType)
		m := domain.EmptyMeasurements(kind)
		if in.Measurements != nil {
			m = *in.Measurements
			if m.Kind == "" {
				m.Kind = kind
			}
		}
		if err := m.Validate(kind); err != nil {
			return err
		}
		m.Normalize()
		now := e.timestamp()
		out = domain.TestResult{
			ID:           uuid.NewString(),
			RequestID:    req.ID,
			PerformedBy:  actor.ID,
			Kind:         kind,
			Measurements: m,
			Status:       domain.ResultPending,
			Verdict:      "pending",
			Observations: in.Observations,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertResult(ctx, tx, out); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.ResultCreated, "result", out.ID, actor.ID, events.EventPayload{"request_id": req.ID, "kind": string(kind)}); err != nil {
			return err
		}
		if req.Status == domain.RequestAccepted {
			if _, err := RequestMachine.Transition(req.Status, domain.RequestInProgress); err != nil {
				return err
			}
			updated, err := e.applyRequestStatus(ctx, tx, actor, req, domain.RequestInProgress)
			if err != nil {
				return err
			}
			moved = &updated
		}
		return nil
	})
	if err != nil {
		return domain.TestResult{}, err
	}
	if moved != nil {
		e.Metrics.RecordTransition(RequestMachine.Kind, domain.RequestAccepted, domain.RequestInProgress)
	}
	return out, nil
}

func (e Engine) GetResult(ctx context.Context, actor auth.Identity, id string) (domain.TestResult, error) {
	r, err := e.Repo.GetResult(ctx, nil, id)
	if err != nil {
		return domain.TestResult{}, missing("result", id, err)
	}
	return r, nil
}

func (e Engine) ListResults(ctx context.Context, actor auth.Identity, f repo.ResultFilters) ([]domain.TestResult, error) {
	if f.Kind != "" {
		if err := oneOf("kind", f.Kind, domain.TestTypes); err != nil {
			return nil, err
		}
	}
	if f.Status != "" && !domain.OneOf(f.Status, ResultMachine.States()) {
		return nil, invalid("status", "unknown result status "+f.Status)
	}
	return e.Repo.ListResults(ctx, f)
}

// loadOwnedResult runs the role and ownership gates for result mutations.
func (e Engine) loadOwnedResult(ctx context.Context, tx *sql.Tx, actor auth.Identity, id string) (domain.TestResult, error) {
	r, err := e.Repo.GetResult(ctx, tx, id)
	if err != nil {
		return r, missing("result", id, err)
	}
	if err := auth.RequireOwnership(actor, r); err != nil {
		return r, err
	}
	return r, nil
}

func (e Engine) UpdateResult(ctx context.Context, actor auth.Identity, id string, in UpdateResultInput) (domain.TestResult, error) {
	var out domain.TestResult
	if err := auth.Require(actor, auth.Laboratorist); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		r, err := e.loadOwnedResult(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if r.Status == domain.ResultFinished {
			return invalid("status", "result is finished")
		}
		changes := events.EventPayload{}
		if in.Measurements != nil {
			m := *in.Measurements
			if m.Kind == "" {
				m.Kind = r.Kind
			}
			if err := m.Validate(r.Kind); err != nil {
				return err
			}
			m.Normalize()
			r.Measurements = m
			changes["measurements"] = true
		}
		if in.Verdict != nil {
			if err := oneOf("verdict", *in.Verdict, domain.Verdicts); err != nil {
				return err
			}
			r.Verdict = *in.Verdict
			changes["verdict"] = r.Verdict
		}
		if in.Observations != nil {
			r.Observations = *in.Observations
			changes["observations"] = true
		}
		r.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateResult(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return e.Events.Append(ctx, tx, events.ResultUpdated, "result", r.ID, actor.ID, changes)
	})
	return out, err
}

// SetResultStatus moves a result forward. Finishing needs a verdict and finishes the request.
func (e Engine) SetResultStatus(ctx context.Context, actor auth.Identity, id, status string) (domain.TestResult, error) {
	var out domain.TestResult
	var from string
	var finished *domain.TestRequest
	if err := auth.Require(actor, auth.Laboratorist); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		r, err := e.loadOwnedResult(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		from = r.Status
		if _, err := ResultMachine.Transition(from, status); err != nil {
			return err
		}
		now := e.timestamp()
		switch status {
		case domain.ResultInProgress:
			r.StartedAt = &now
		case domain.ResultFinished:
			if r.Verdict == "" || r.Verdict == "pending" {
				return invalid("verdict", "set a verdict before finishing")
			}
			r.FinishedAt = &now
		}
		r.Status = status
		r.UpdatedAt = now
		if err := e.Repo.UpdateResult(ctx, tx, r); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.ResultStatusChanged, "result", r.ID, actor.ID, events.EventPayload{"from": from, "to": status}); err != nil {
			return err
		}
		out = r
		if status != domain.ResultFinished {
			return nil
		}
		req, err := e.Repo.GetRequest(ctx, tx, r.RequestID)
		if err != nil {
			return missing("request", r.RequestID, err)
		}
		if _, err := RequestMachine.Transition(req.Status, domain.RequestFinished); err != nil {
			return err
		}
		updated, err := e.applyRequestStatus(ctx, tx, actor, req, domain.RequestFinished)
		if err != nil {
			return err
		}
		finished = &updated
		return nil
	})
	if err != nil {
		return domain.TestResult{}, err
	}
	e.Metrics.RecordTransition(ResultMachine.Kind, from, status)
	if finished != nil {
		e.Metrics.RecordTransition(RequestMachine.Kind, domain.RequestInProgress, domain.RequestFinished)
		e.notifyRequest(ctx, *finished)
	}
	return out, nil
}

// GenerateReport renders the finished result to XLSX and bumps its report version.
// Supervisors may report on any result; laboratorists only on their own.
func (e Engine) GenerateReport(ctx context.Context, actor auth.Identity, id string) (domain.TestResult, error) {
	var out domain.TestResult
	if err := auth.Require(actor, auth.Laboratorist); err != nil {
		return out, err
	}
	var saved string
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		r, err := e.Repo.GetResult(ctx, tx, id)
		if err != nil {
			return missing("result", id, err)
		}
		if !auth.Authorize([]auth.Role{auth.Supervisor}, actor.Role) {
			if err := auth.RequireOwnership(actor, r); err != nil {
				return err
			}
		}
		if r.Status != domain.ResultFinished {
			return invalid("status", "reports are generated for finished results only")
		}
		req, err := e.Repo.GetRequest(ctx, tx, r.RequestID)
		if err != nil {
			return missing("request", r.RequestID, err)
		}
		site, err := e.Repo.GetSite(ctx, tx, req.SiteID)
		if err != nil {
			return missing("site", req.SiteID, err)
		}
		performer := r.PerformedBy
		if u, err := e.Repo.GetUser(ctx, tx, r.PerformedBy); err == nil {
			performer = u.Name
		}
		now := e.timestamp()
		version := r.ReportVersion + 1
		data, err := report.BuildResult(report.ResultInput{
			Result:      r,
			Request:     req,
			Site:        site,
			PerformedBy: performer,
			Version:     version,
			GeneratedAt: now,
		})
		if err != nil {
			return fmt.Errorf("build report: %w", err)
		}
		path, err := e.Reports.Save(r.ID, version, data)
		if err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		saved = path
		r.ReportPath = &path
		r.ReportVersion = version
		r.ReportGeneratedAt = &now
		r.UpdatedAt = now
		if err := e.Repo.UpdateResult(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return e.Events.Append(ctx, tx, events.ResultReportGenerated, "result", r.ID, actor.ID, events.EventPayload{"version": version})
	})
	if err != nil {
		if saved != "" {
			if rmErr := e.Reports.Remove(saved); rmErr != nil {
				e.logger().Warn("orphan report not removed", zap.String("path", saved), zap.Error(rmErr))
			}
		}
		return domain.TestResult{}, err
	}
	e.logger().Info("report generated", zap.String("result_id", out.ID), zap.Int("version", out.ReportVersion))
	return out, nil
}

// Report returns the latest generated report of a result.
func (e Engine) Report(ctx context.Context, actor auth.Identity, id string) (ReportFile, error) {
	r, err := e.GetResult(ctx, actor, id)
	if err != nil {
		return ReportFile{}, err
	}
	if r.ReportPath == nil || r.ReportVersion == 0 {
		return ReportFile{}, fmt.Errorf("report for result %s: %w", id, repo.ErrNotFound)
	}
	data, err := e.Reports.Read(*r.ReportPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReportFile{}, fmt.Errorf("report file for result %s: %w", id, repo.ErrNotFound)
		}
		return ReportFile{}, err
	}
	return ReportFile{
		Name:    fmt.Sprintf("%s-v%d%s", r.ID, r.ReportVersion, filepath.Ext(*r.ReportPath)),
		Version: r.ReportVersion,
		Data:    data,
	}, nil
}
