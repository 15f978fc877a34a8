package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	"labflow/internal/repo"
)

type CreateSiteInput struct {
	Code             string
	Name             string
	Location         string
	Client           string
	ContractNumber   string
	Description      string
	DirectorID       string
	StartDate        *string
	EstimatedEndDate *string
}

type UpdateSiteInput struct {
	Code             *string
	Name             *string
	Location         *string
	Client           *string
	ContractNumber   *string
	Description      *string
	DirectorID       *string
	StartDate        *string
	EstimatedEndDate *string
}

// ensureDirector checks the user exists, is active and holds the director role or above.
func (e Engine) ensureDirector(ctx context.Context, tx *sql.Tx, userID string) error {
	if err := required("director_id", userID); err != nil {
		return err
	}
	u, err := e.Repo.GetUser(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return invalid("director_id", "unknown user")
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return invalid("director_id", "user is inactive")
	}
	if !auth.Authorize([]auth.Role{auth.Director}, auth.Role(u.Role)) {
		return invalid("director_id", "user cannot direct a site")
	}
	return nil
}

func checkSiteDates(start, estimated *string) error {
	if err := validDate("start_date", start); err != nil {
		return err
	}
	if err := validDate("estimated_end_date", estimated); err != nil {
		return err
	}
	if start != nil && estimated != nil && *start != "" && *estimated != "" && *estimated < *start {
		return invalid("estimated_end_date", "must not precede start_date")
	}
	return nil
}

func (e Engine) CreateSite(ctx context.Context, actor auth.Identity, in CreateSiteInput) (domain.Site, error) {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return domain.Site{}, err
	}
	name := strings.TrimSpace(in.Name)
	if err := required("name", name); err != nil {
		return domain.Site{}, err
	}
	location := strings.TrimSpace(in.Location)
	if err := required("location", location); err != nil {
		return domain.Site{}, err
	}
	if err := checkSiteDates(in.StartDate, in.EstimatedEndDate); err != nil {
		return domain.Site{}, err
	}
	now := e.timestamp()
	s := domain.Site{
		ID:               uuid.NewString(),
		Code:             optionalString(strings.TrimSpace(in.Code)),
		Name:             name,
		Location:         location,
		Client:           in.Client,
		ContractNumber:   in.ContractNumber,
		Description:      in.Description,
		Status:           domain.SitePlanned,
		DirectorID:       in.DirectorID,
		StartDate:        in.StartDate,
		EstimatedEndDate: in.EstimatedEndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureDirector(ctx, tx, s.DirectorID); err != nil {
			return err
		}
		if err := e.Repo.InsertSite(ctx, tx, s); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SiteCreated, "site", s.ID, actor.ID, events.EventPayload{"director_id": s.DirectorID})
	})
	if err != nil {
		return domain.Site{}, err
	}
	return s, nil
}

func (e Engine) GetSite(ctx context.Context, actor auth.Identity, id string) (domain.Site, error) {
	s, err := e.Repo.GetSite(ctx, nil, id)
	if err != nil {
		return domain.Site{}, missing("site", id, err)
	}
	return s, nil
}

func (e Engine) ListSites(ctx context.Context, actor auth.Identity, f repo.SiteFilters) ([]domain.Site, error) {
	if f.Status != "" && !domain.OneOf(f.Status, SiteMachine.States()) {
		return nil, invalid("status", "unknown site status "+f.Status)
	}
	return e.Repo.ListSites(ctx, f)
}

// UpdateSite edits site details. Reassigning the director is reserved to administrators.
func (e Engine) UpdateSite(ctx context.Context, actor auth.Identity, id string, in UpdateSiteInput) (domain.Site, error) {
	var out domain.Site
	if err := auth.Require(actor, auth.Administrator, auth.Director); err != nil {
		return out, err
	}
	if in.DirectorID != nil && actor.Role != auth.Administrator {
		return out, auth.ForbiddenError{Required: []auth.Role{auth.Administrator}}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetSite(ctx, tx, id)
		if err != nil {
			return missing("site", id, err)
		}
		if err := auth.RequireOwnership(actor, s); err != nil {
			return err
		}
		if s.Terminal() {
			return invalid("status", "site is "+s.Status)
		}
		changes := events.EventPayload{}
		setOptional := func(field string, dst *string, v *string) {
			if v == nil {
				return
			}
			*dst = *v
			changes[field] = *v
		}
		setRequired := func(field string, dst *string, v *string) error {
			if v == nil {
				return nil
			}
			val := strings.TrimSpace(*v)
			if err := required(field, val); err != nil {
				return err
			}
			setOptional(field, dst, &val)
			return nil
		}
		if err := setRequired("name", &s.Name, in.Name); err != nil {
			return err
		}
		if err := setRequired("location", &s.Location, in.Location); err != nil {
			return err
		}
		setOptional("client", &s.Client, in.Client)
		setOptional("contract_number", &s.ContractNumber, in.ContractNumber)
		setOptional("description", &s.Description, in.Description)
		if in.Code != nil {
			s.Code = optionalString(strings.TrimSpace(*in.Code))
			changes["code"] = *in.Code
		}
		if in.StartDate != nil {
			s.StartDate = optionalString(*in.StartDate)
			changes["start_date"] = *in.StartDate
		}
		if in.EstimatedEndDate != nil {
			s.EstimatedEndDate = optionalString(*in.EstimatedEndDate)
			changes["estimated_end_date"] = *in.EstimatedEndDate
		}
		if err := checkSiteDates(s.StartDate, s.EstimatedEndDate); err != nil {
			return err
		}
		if in.DirectorID != nil {
			if err := e.ensureDirector(ctx, tx, *in.DirectorID); err != nil {
				return err
			}
			s.DirectorID = *in.DirectorID
			changes["director_id"] = s.DirectorID
		}
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateSite(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return e.Events.Append(ctx, tx, events.SiteUpdated, "site", s.ID, actor.ID, changes)
	})
	return out, err
}

// SetSiteStatus moves a site through its lifecycle. Finishing stamps the actual end date.
func (e Engine) SetSiteStatus(ctx context.Context, actor auth.Identity, id, status string) (domain.Site, error) {
	var out domain.Site
	var from string
	if err := auth.Require(actor, auth.Administrator, auth.Director); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetSite(ctx, tx, id)
		if err != nil {
			return missing("site", id, err)
		}
		if err := auth.RequireOwnership(actor, s); err != nil {
			return err
		}
		from = s.Status
		if _, err := SiteMachine.Transition(from, status); err != nil {
			return err
		}
		now := e.timestamp()
		s.Status = status
		if status == domain.SiteFinished {
			s.ActualEndDate = &now
		}
		s.UpdatedAt = now
		if err := e.Repo.UpdateSite(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return e.Events.Append(ctx, tx, events.SiteStatusChanged, "site", s.ID, actor.ID, events.EventPayload{"from": from, "to": status})
	})
	if err == nil {
		e.Metrics.RecordTransition(SiteMachine.Kind, from, out.Status)
	}
	return out, err
}

// DeleteSite removes a site that has no requests and no assigned equipment.
func (e Engine) DeleteSite(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetSite(ctx, tx, id); err != nil {
			return missing("site", id, err)
		}
		requests, equipment, history, err := e.Repo.SiteDependents(ctx, tx, id)
		if err != nil {
			return err
		}
		if history > 0 {
			return invalid("id", "site is referenced by equipment history")
		}
		if requests > 0 {
			return invalid("id", "site has test requests")
		}
		if equipment > 0 {
			return invalid("id", "site has assigned equipment")
		}
		if err := e.Repo.DeleteSite(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SiteDeleted, "site", id, actor.ID, nil)
	})
}
