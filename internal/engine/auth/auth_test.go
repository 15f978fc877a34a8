package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeClosure(t *testing.T) {
	cases := []struct {
		required []Role
		actual   Role
		want     bool
	}{
		{[]Role{Laboratorist}, Administrator, true},
		{[]Role{Laboratorist}, Supervisor, true},
		{[]Role{Laboratorist}, Laboratorist, true},
		{[]Role{Laboratorist}, Director, false},
		{[]Role{Laboratorist}, Customer, false},
		{[]Role{Director}, Administrator, true},
		{[]Role{Director}, Supervisor, false},
		{[]Role{Supervisor}, Laboratorist, false},
		{[]Role{Customer}, Administrator, false},
		{[]Role{Customer}, Customer, true},
		{[]Role{Administrator}, Supervisor, false},
		{[]Role{Director, Customer}, Customer, true},
		{nil, Administrator, false},
		{[]Role{Laboratorist}, Role("root"), false},
		{[]Role{Role("root")}, Role("root"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Authorize(tc.required, tc.actual), "required=%v actual=%s", tc.required, tc.actual)
	}
}

func TestClosureIsReflexiveTransitive(t *testing.T) {
	assert.ElementsMatch(t, []Role{Administrator, Supervisor, Director, Laboratorist}, Closure(Administrator))
	assert.ElementsMatch(t, []Role{Supervisor, Laboratorist}, Closure(Supervisor))
	assert.Equal(t, []Role{Customer}, Closure(Customer))
	assert.Nil(t, Closure(Role("guest")))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("director")
	require.True(t, ok)
	assert.Equal(t, Director, r)
	_, ok = ParseRole("Director")
	assert.False(t, ok)
	_, ok = ParseRole("")
	assert.False(t, ok)
}

type site struct{ owner string }

func (s site) OwnerID() string { return s.owner }

func TestOwnership(t *testing.T) {
	admin := Identity{ID: "a1", Role: Administrator}
	dir := Identity{ID: "d1", Role: Director}
	other := Identity{ID: "d2", Role: Director}

	assert.True(t, CanMutate(admin, site{owner: "d1"}))
	assert.True(t, CanMutate(dir, site{owner: "d1"}))
	assert.False(t, CanMutate(other, site{owner: "d1"}))
	assert.False(t, CanMutate(Identity{Role: Director}, site{owner: ""}))

	err := RequireOwnership(other, site{owner: "d1"})
	var fe ForbiddenError
	require.ErrorAs(t, err, &fe)
}

func TestRequireReturnsForbidden(t *testing.T) {
	err := Require(Identity{ID: "c", Role: Customer}, Laboratorist)
	var fe ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "laboratorist")
	assert.NoError(t, Require(Identity{ID: "s", Role: Supervisor}, Laboratorist))
}

func newTokens(now time.Time) *TokenService {
	return &TokenService{Secret: "test-secret", TTL: time.Hour, Issuer: "labflow", Now: func() time.Time { return now }}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTokens(now)
	tok, err := svc.Issue(Identity{ID: "u1", Email: "u1@example.com", Name: "U One", Role: Laboratorist})
	require.NoError(t, err)

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	id := claims.Identity()
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "u1@example.com", id.Email)
	assert.Equal(t, Laboratorist, id.Role)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.Expiry().Unix())
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTokens(now)
	tok, err := svc.Issue(Identity{ID: "u1", Role: Customer})
	require.NoError(t, err)

	later := *svc
	later.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = later.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsAuthenticationFailure(err))
}

func TestTokenMalformed(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTokens(now)
	tok, err := svc.Issue(Identity{ID: "u1", Role: Customer})
	require.NoError(t, err)

	other := *svc
	other.Secret = "another-secret"
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, err = svc.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	_, err = svc.Verify(parts[0] + "." + parts[1] + ".")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestResetTokenPurposeIsolation(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTokens(now)
	id := Identity{ID: "u1", Email: "u1@example.com", Role: Administrator}

	access, err := svc.Issue(id)
	require.NoError(t, err)
	reset, err := svc.IssueReset(id)
	require.NoError(t, err)

	_, err = svc.VerifyReset(access)
	assert.ErrorIs(t, err, ErrTokenMalformed)
	_, err = svc.Verify(reset)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	claims, err := svc.VerifyReset(reset)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Empty(t, claims.Role)
	assert.Equal(t, now.Add(ResetTTL).Unix(), claims.Expiry().Unix())
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("123")
	require.Error(t, err)
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret-pass"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
