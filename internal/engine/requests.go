package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	"labflow/internal/mail"
	"labflow/internal/repo"
)

type CreateRequestInput struct {
	SiteID      string
	TestType    string
	Priority    string
	Description string
	DueDate     *string
}

type UpdateRequestInput struct {
	SiteID      *string
	TestType    *string
	Description *string
	DueDate     *string
}

// requestCodePrefix is SOL-YYYYMM- for the month of now.
func (e Engine) requestCodePrefix() string {
	return "SOL-" + e.now().UTC().Format("200601") + "-"
}

func (e Engine) ensureOpenSite(ctx context.Context, tx *sql.Tx, siteID string) error {
	if err := required("site_id", siteID); err != nil {
		return err
	}
	s, err := e.Repo.GetSite(ctx, tx, siteID)
	if err != nil {
		return missing("site", siteID, err)
	}
	if s.Terminal() {
		return invalid("site_id", "site is "+s.Status)
	}
	return nil
}

func (e Engine) CreateRequest(ctx context.Context, actor auth.Identity, in CreateRequestInput) (domain.TestRequest, error) {
	if err := auth.Require(actor, auth.Administrator, auth.Director, auth.Customer); err != nil {
		return domain.TestRequest{}, err
	}
	if _, ok := domain.ParseTestType(in.TestType); !ok {
		return domain.TestRequest{}, invalid("test_type", "must be one of "+strings.Join(domain.TestTypes, ", "))
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	if err := oneOf("priority", in.Priority, domain.Priorities); err != nil {
		return domain.TestRequest{}, err
	}
	if err := validDate("due_date", in.DueDate); err != nil {
		return domain.TestRequest{}, err
	}
	now := e.timestamp()
	t := domain.TestRequest{
		ID:          uuid.NewString(),
		SiteID:      in.SiteID,
		TestType:    in.TestType,
		Priority:    in.Priority,
		Status:      domain.RequestPending,
		Description: in.Description,
		DueDate:     in.DueDate,
		RequestedBy: actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	insert := func(tx *sql.Tx) error {
		if err := e.ensureOpenSite(ctx, tx, t.SiteID); err != nil {
			return err
		}
		prefix := e.requestCodePrefix()
		seq, err := e.Repo.NextRequestSequence(ctx, tx, prefix)
		if err != nil {
			return err
		}
		t.Code = fmt.Sprintf("%s%04d", prefix, seq)
		if err := e.Repo.InsertRequest(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RequestCreated, "request", t.ID, actor.ID, events.EventPayload{"code": t.Code, "site_id": t.SiteID})
	}
	err := e.inTx(ctx, insert)
	if errors.Is(err, repo.ErrDuplicate) {
		// a concurrent create took the same code
		err = e.inTx(ctx, insert)
	}
	if err != nil {
		return domain.TestRequest{}, err
	}
	return t, nil
}

func (e Engine) GetRequest(ctx context.Context, actor auth.Identity, id string) (domain.TestRequest, error) {
	t, err := e.Repo.GetRequest(ctx, nil, id)
	if err != nil {
		return domain.TestRequest{}, missing("request", id, err)
	}
	return t, nil
}

func (e Engine) ListRequests(ctx context.Context, actor auth.Identity, f repo.RequestFilters) ([]domain.TestRequest, error) {
	if f.Status != "" && !domain.OneOf(f.Status, RequestMachine.States()) {
		return nil, invalid("status", "unknown request status "+f.Status)
	}
	if f.Priority != "" {
		if err := oneOf("priority", f.Priority, domain.Priorities); err != nil {
			return nil, err
		}
	}
	if f.TestType != "" {
		if err := oneOf("test_type", f.TestType, domain.TestTypes); err != nil {
			return nil, err
		}
	}
	// date-only bounds cover the whole day
	if len(f.From) == len(dateLayout) {
		if err := validDate("from", &f.From); err != nil {
			return nil, err
		}
		f.From += "T00:00:00Z"
	}
	if len(f.To) == len(dateLayout) {
		if err := validDate("to", &f.To); err != nil {
			return nil, err
		}
		f.To += "T23:59:59Z"
	}
	return e.Repo.ListRequests(ctx, f)
}

// RequestStats counts requests per status with each status' share of the total.
func (e Engine) RequestStats(ctx context.Context, actor auth.Identity, siteID string) (domain.RequestStats, error) {
	counts, err := e.Repo.CountRequestsByStatus(ctx, siteID)
	if err != nil {
		return domain.RequestStats{}, err
	}
	stats := domain.RequestStats{ByStatus: map[string]int{}, Percentages: map[string]float64{}}
	for _, s := range RequestMachine.States() {
		stats.ByStatus[s] = counts[s]
		stats.Total += counts[s]
	}
	for s, n := range stats.ByStatus {
		if stats.Total == 0 {
			stats.Percentages[s] = 0
			continue
		}
		stats.Percentages[s] = math.Round(float64(n)*10000/float64(stats.Total)) / 100
	}
	return stats, nil
}

// OverdueRequests lists open requests whose due date has passed.
func (e Engine) OverdueRequests(ctx context.Context, actor auth.Identity) ([]domain.TestRequest, error) {
	return e.Repo.ListOverdueRequests(ctx, e.today())
}

// UpdateRequest edits a request that has not started testing.
func (e Engine) UpdateRequest(ctx context.Context, actor auth.Identity, id string, in UpdateRequestInput) (domain.TestRequest, error) {
	var out domain.TestRequest
	if err := auth.Require(actor, auth.Administrator, auth.Director); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return missing("request", id, err)
		}
		if t.Status == domain.RequestInProgress || t.Status == domain.RequestFinished {
			return invalid("status", "request is "+t.Status)
		}
		changes := events.EventPayload{}
		if in.SiteID != nil && *in.SiteID != t.SiteID {
			if err := e.ensureOpenSite(ctx, tx, *in.SiteID); err != nil {
				return err
			}
			t.SiteID = *in.SiteID
			changes["site_id"] = t.SiteID
		}
		if in.TestType != nil {
			if _, ok := domain.ParseTestType(*in.TestType); !ok {
				return invalid("test_type", "must be one of "+strings.Join(domain.TestTypes, ", "))
			}
			t.TestType = *in.TestType
			changes["test_type"] = t.TestType
		}
		if in.Description != nil {
			t.Description = *in.Description
			changes["description"] = t.Description
		}
		if in.DueDate != nil {
			if err := validDate("due_date", in.DueDate); err != nil {
				return err
			}
			t.DueDate = optionalString(*in.DueDate)
			changes["due_date"] = *in.DueDate
		}
		t.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateRequest(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return e.Events.Append(ctx, tx, events.RequestUpdated, "request", t.ID, actor.ID, changes)
	})
	return out, err
}

func (e Engine) SetRequestPriority(ctx context.Context, actor auth.Identity, id, priority string) (domain.TestRequest, error) {
	var out domain.TestRequest
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return out, err
	}
	if err := oneOf("priority", priority, domain.Priorities); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return missing("request", id, err)
		}
		if t.Status == domain.RequestFinished {
			return invalid("status", "request is finished")
		}
		from := t.Priority
		t.Priority = priority
		t.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateRequest(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return e.Events.Append(ctx, tx, events.RequestPriorityChanged, "request", t.ID, actor.ID, events.EventPayload{"from": from, "to": priority})
	})
	return out, err
}

// AcceptRequest is the pending -> accepted transition taken by a tester.
func (e Engine) AcceptRequest(ctx context.Context, actor auth.Identity, id string) (domain.TestRequest, error) {
	return e.changeRequestStatus(ctx, actor, id, domain.RequestAccepted, true)
}

// SetRequestStatus applies a request transition with its side rules.
func (e Engine) SetRequestStatus(ctx context.Context, actor auth.Identity, id, status string) (domain.TestRequest, error) {
	return e.changeRequestStatus(ctx, actor, id, status, false)
}

func (e Engine) changeRequestStatus(ctx context.Context, actor auth.Identity, id, status string, viaAccept bool) (domain.TestRequest, error) {
	var out domain.TestRequest
	var from string
	if err := auth.Require(actor, auth.Laboratorist); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return missing("request", id, err)
		}
		from = t.Status
		if _, err := RequestMachine.Transition(from, status); err != nil {
			return err
		}
		switch status {
		case domain.RequestAccepted:
			if !viaAccept {
				return invalid("status", "use accept to take a pending request")
			}
		case domain.RequestCancelled:
			exists, err := e.Repo.ResultExists(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if exists {
				return invalid("status", "request has a test result")
			}
		case domain.RequestFinished:
			res, err := e.Repo.GetResultByRequest(ctx, tx, t.ID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err != nil || res.Status != domain.ResultFinished {
				return invalid("status", "request has no finished test result")
			}
		}
		out, err = e.applyRequestStatus(ctx, tx, actor, t, status)
		return err
	})
	if err != nil {
		return out, err
	}
	e.Metrics.RecordTransition(RequestMachine.Kind, from, status)
	e.notifyRequest(ctx, out)
	return out, nil
}

// applyRequestStatus writes a transition already checked against RequestMachine.
func (e Engine) applyRequestStatus(ctx context.Context, tx *sql.Tx, actor auth.Identity, t domain.TestRequest, status string) (domain.TestRequest, error) {
	from := t.Status
	now := e.timestamp()
	t.Status = status
	switch status {
	case domain.RequestAccepted:
		t.AcceptedBy = &actor.ID
		t.AcceptedAt = &now
	case domain.RequestFinished:
		t.FinishedAt = &now
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, t); err != nil {
		return t, err
	}
	err := e.Events.Append(ctx, tx, events.RequestStatusChanged, "request", t.ID, actor.ID, events.EventPayload{"from": from, "to": status})
	return t, err
}

func (e Engine) notifyRequest(ctx context.Context, t domain.TestRequest) {
	switch t.Status {
	case domain.RequestAccepted:
		e.notify(ctx, t.RequestedBy, func(to string) mail.Message { return mail.RequestAccepted(to, t.Code, t.TestType) })
	case domain.RequestFinished:
		e.notify(ctx, t.RequestedBy, func(to string) mail.Message { return mail.RequestFinished(to, t.Code, t.TestType) })
	}
}

// DeleteRequest removes a pending or cancelled request that has no result.
func (e Engine) DeleteRequest(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.Administrator, auth.Director); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return missing("request", id, err)
		}
		exists, err := e.Repo.ResultExists(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if exists {
			return invalid("id", "request has a test result")
		}
		if t.Status != domain.RequestPending && t.Status != domain.RequestCancelled {
			return invalid("status", "only pending or cancelled requests can be deleted")
		}
		if err := e.Repo.DeleteRequest(ctx, tx, t.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RequestDeleted, "request", t.ID, actor.ID, events.EventPayload{"code": t.Code})
	})
}
