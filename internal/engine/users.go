package engine

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	labmail "labflow/internal/mail"
	"labflow/internal/repo"
)

// Session is returned by register and login.
type Session struct {
	User      domain.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type CreateUserInput struct {
	Name      string
	Email     string
	Password  string
	Role      string
	ManagerID string
}

type UpdateUserInput struct {
	Name      *string
	Email     *string
	Role      *string
	ManagerID *string
}

func identityOf(u domain.User) auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: auth.Role(u.Role)}
}

func normalizeEmail(field, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalid(field, "required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", invalid(field, "invalid email address")
	}
	return email, nil
}

func (e Engine) newUser(in CreateUserInput) (domain.User, error) {
	name := strings.TrimSpace(in.Name)
	if err := required("name", name); err != nil {
		return domain.User{}, err
	}
	email, err := normalizeEmail("email", in.Email)
	if err != nil {
		return domain.User{}, err
	}
	if _, ok := auth.ParseRole(in.Role); !ok {
		return domain.User{}, invalid("role", "unknown role "+in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, invalid("password", "must be at least 6 characters")
	}
	now := e.timestamp()
	return domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
		ManagerID:    optionalString(in.ManagerID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (e Engine) session(u domain.User) (Session, error) {
	token, err := e.Tokens.Issue(identityOf(u))
	if err != nil {
		return Session{}, err
	}
	claims, err := e.Tokens.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token, ExpiresAt: claims.Expiry().UTC().Format(time.RFC3339)}, nil
}

// Register creates a customer account and signs it in.
func (e Engine) Register(ctx context.Context, in RegisterInput) (Session, error) {
	u, err := e.newUser(CreateUserInput{Name: in.Name, Email: in.Email, Password: in.Password, Role: string(auth.Customer)})
	if err != nil {
		return Session{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserRegistered, "user", u.ID, u.ID, events.EventPayload{"role": u.Role})
	})
	if err != nil {
		return Session{}, err
	}
	return e.session(u)
}

// Login checks credentials. Unknown email and wrong password fail the same way.
func (e Engine) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := e.Repo.GetUserByEmail(ctx, nil, email)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, auth.AuthenticationError{Reason: "invalid credentials"}
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, auth.AuthenticationError{Reason: "invalid credentials"}
	}
	if !u.Active {
		return Session{}, auth.AuthenticationError{Reason: "account disabled"}
	}
	return e.session(u)
}

// IssueSession signs a token for an existing active account without a password.
// Only operator tooling calls it.
func (e Engine) IssueSession(ctx context.Context, email string) (Session, error) {
	u, err := e.Repo.GetUserByEmail(ctx, nil, email)
	if err != nil {
		return Session{}, missing("user", email, err)
	}
	if !u.Active {
		return Session{}, invalid("email", "account is disabled")
	}
	return e.session(u)
}

// Authenticate verifies a bearer token and resolves the caller against the stored account.
func (e Engine) Authenticate(ctx context.Context, token string) (auth.Identity, auth.Claims, error) {
	claims, err := e.Tokens.Verify(token)
	if err != nil {
		return auth.Identity{}, auth.Claims{}, err
	}
	if e.Denylist != nil {
		revoked, err := e.Denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return auth.Identity{}, auth.Claims{}, err
		}
		if revoked {
			return auth.Identity{}, auth.Claims{}, auth.ErrTokenRevoked
		}
	}
	u, err := e.Repo.GetUser(ctx, nil, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Identity{}, auth.Claims{}, auth.AuthenticationError{Reason: "unknown account"}
	}
	if err != nil {
		return auth.Identity{}, auth.Claims{}, err
	}
	if !u.Active {
		return auth.Identity{}, auth.Claims{}, auth.AuthenticationError{Reason: "account disabled"}
	}
	return identityOf(u), claims, nil
}

// Logout revokes the token until its natural expiry.
func (e Engine) Logout(ctx context.Context, actor auth.Identity, claims auth.Claims) error {
	if e.Denylist == nil {
		return errors.New("token revocation not configured")
	}
	if err := e.Denylist.Revoke(ctx, claims.ID, claims.Expiry()); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, events.UserLoggedOut, "user", actor.ID, actor.ID, nil)
	})
}

func (e Engine) Me(ctx context.Context, actor auth.Identity) (domain.User, error) {
	return e.GetUser(ctx, actor, actor.ID)
}

func (e Engine) GetUser(ctx context.Context, actor auth.Identity, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, id)
	if err != nil {
		return domain.User{}, missing("user", id, err)
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor auth.Identity, f repo.UserFilters) ([]domain.User, error) {
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor); err != nil {
		return nil, err
	}
	if f.Role != "" {
		if _, ok := auth.ParseRole(f.Role); !ok {
			return nil, invalid("role", "unknown role "+f.Role)
		}
	}
	return e.Repo.ListUsers(ctx, f)
}

func (e Engine) validateManager(ctx context.Context, tx *sql.Tx, userID, managerID string) error {
	if managerID == "" {
		return nil
	}
	if managerID == userID {
		return invalid("manager_id", "a user cannot manage itself")
	}
	m, err := e.Repo.GetUser(ctx, tx, managerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("manager_id", "unknown user")
		}
		return err
	}
	// Manager links form a tree: walk up from the new manager.
	seen := map[string]bool{m.ID: true}
	for m.ManagerID != nil && *m.ManagerID != "" {
		next := *m.ManagerID
		if next == userID {
			return invalid("manager_id", "would create a cycle")
		}
		if seen[next] {
			break
		}
		seen[next] = true
		if m, err = e.Repo.GetUser(ctx, tx, next); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				break
			}
			return err
		}
	}
	return nil
}

// CreateUser lets an administrator create an account with any role.
func (e Engine) CreateUser(ctx context.Context, actor auth.Identity, in CreateUserInput) (domain.User, error) {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return domain.User{}, err
	}
	u, err := e.newUser(in)
	if err != nil {
		return domain.User{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.validateManager(ctx, tx, u.ID, in.ManagerID); err != nil {
			return err
		}
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserCreated, "user", u.ID, actor.ID, events.EventPayload{"role": u.Role})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// UpdateUser edits a profile. Only administrators change role or manager.
func (e Engine) UpdateUser(ctx context.Context, actor auth.Identity, id string, in UpdateUserInput) (domain.User, error) {
	var out domain.User
	if (in.Role != nil || in.ManagerID != nil) && actor.Role != auth.Administrator {
		return out, auth.ForbiddenError{Required: []auth.Role{auth.Administrator}}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		u, err := e.Repo.GetUser(ctx, tx, id)
		if err != nil {
			return missing("user", id, err)
		}
		if err := auth.RequireOwnership(actor, u); err != nil {
			return err
		}
		changes := events.EventPayload{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if err := required("name", name); err != nil {
				return err
			}
			u.Name = name
			changes["name"] = name
		}
		if in.Email != nil {
			email, err := normalizeEmail("email", *in.Email)
			if err != nil {
				return err
			}
			u.Email = email
			changes["email"] = email
		}
		if in.Role != nil {
			if _, ok := auth.ParseRole(*in.Role); !ok {
				return invalid("role", "unknown role "+*in.Role)
			}
			u.Role = *in.Role
			changes["role"] = u.Role
		}
		if in.ManagerID != nil {
			if err := e.validateManager(ctx, tx, u.ID, *in.ManagerID); err != nil {
				return err
			}
			u.ManagerID = optionalString(*in.ManagerID)
			changes["manager_id"] = *in.ManagerID
		}
		u.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return e.Events.Append(ctx, tx, events.UserUpdated, "user", u.ID, actor.ID, changes)
	})
	return out, err
}

// ChangePassword requires the current password even for administrators.
func (e Engine) ChangePassword(ctx context.Context, actor auth.Identity, id, current, next string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		u, err := e.Repo.GetUser(ctx, tx, id)
		if err != nil {
			return missing("user", id, err)
		}
		if err := auth.RequireOwnership(actor, u); err != nil {
			return err
		}
		if !auth.CheckPassword(u.PasswordHash, current) {
			return invalid("current_password", "does not match")
		}
		hash, err := auth.HashPassword(next)
		if err != nil {
			return invalid("new_password", "must be at least 6 characters")
		}
		u.PasswordHash = hash
		u.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserPasswordChanged, "user", u.ID, actor.ID, nil)
	})
}

// SetUserActive soft-deletes or restores an account.
func (e Engine) SetUserActive(ctx context.Context, actor auth.Identity, id string, active bool) (domain.User, error) {
	var out domain.User
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return out, err
	}
	if !active && id == actor.ID {
		return out, invalid("id", "administrators cannot deactivate themselves")
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		u, err := e.Repo.GetUser(ctx, tx, id)
		if err != nil {
			return missing("user", id, err)
		}
		if u.Active == active {
			if active {
				return invalid("active", "user is already active")
			}
			return invalid("active", "user is already inactive")
		}
		u.Active = active
		u.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		evt := events.UserDeactivated
		if active {
			evt = events.UserRestored
		}
		return e.Events.Append(ctx, tx, evt, "user", u.ID, actor.ID, nil)
	})
	return out, err
}

func (e Engine) UserStats(ctx context.Context, actor auth.Identity) (domain.UserStats, error) {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return domain.UserStats{}, err
	}
	counts, err := e.Repo.CountActiveUsersByRole(ctx)
	if err != nil {
		return domain.UserStats{}, err
	}
	stats := domain.UserStats{ByRole: map[string]int{}}
	for _, r := range auth.Roles {
		stats.ByRole[string(r)] = counts[string(r)]
		stats.TotalActive += counts[string(r)]
	}
	return stats, nil
}

// RequestPasswordReset mails a reset token when the address belongs to an active account.
// It reports success either way so callers cannot probe for accounts.
func (e Engine) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := e.Repo.GetUserByEmail(ctx, nil, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return nil
	}
	token, err := e.Tokens.IssueReset(identityOf(u))
	if err != nil {
		return err
	}
	e.notify(ctx, u.ID, func(to string) labmail.Message {
		return labmail.PasswordReset(to, token, int(auth.ResetTTL.Minutes()))
	})
	e.logger().Info("password reset requested", zap.String("user_id", u.ID))
	return nil
}

// ConfirmPasswordReset sets a new password with a reset token. Tokens are single use.
func (e Engine) ConfirmPasswordReset(ctx context.Context, token, next string) error {
	claims, err := e.Tokens.VerifyReset(token)
	if err != nil {
		return err
	}
	if e.Denylist != nil {
		revoked, err := e.Denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return err
		}
		if revoked {
			return auth.ErrTokenRevoked
		}
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return invalid("new_password", "must be at least 6 characters")
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		u, err := e.Repo.GetUser(ctx, tx, claims.Subject)
		if errors.Is(err, repo.ErrNotFound) {
			return auth.AuthenticationError{Reason: "unknown account"}
		}
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		u.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserPasswordChanged, "user", u.ID, u.ID, events.EventPayload{"via": "reset"})
	})
	if err != nil {
		return err
	}
	if e.Denylist != nil {
		return e.Denylist.Revoke(ctx, claims.ID, claims.Expiry())
	}
	return nil
}

// EnsureAdmin creates the bootstrap administrator when no account uses the email yet.
func (e Engine) EnsureAdmin(ctx context.Context, email, password, name string) (domain.User, bool, error) {
	existing, err := e.Repo.GetUserByEmail(ctx, nil, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, false, err
	}
	if name == "" {
		name = "Administrator"
	}
	u, err := e.newUser(CreateUserInput{Name: name, Email: email, Password: password, Role: string(auth.Administrator)})
	if err != nil {
		return domain.User{}, false, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserCreated, "user", u.ID, "system", events.EventPayload{"role": u.Role, "bootstrap": true})
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}
