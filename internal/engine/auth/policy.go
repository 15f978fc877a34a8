package auth

// Role is one of the fixed account roles.
type Role string

const (
	Administrator Role = "administrator"
	Supervisor    Role = "supervisor"
	Director      Role = "director"
	Laboratorist  Role = "laboratorist"
	Customer      Role = "customer"
)

// Roles lists every known role, top of the hierarchy first.
var Roles = []Role{Administrator, Supervisor, Director, Laboratorist, Customer}

var children = map[Role][]Role{
	Administrator: {Supervisor, Director},
	Supervisor:    {Laboratorist},
	Director:      {},
	Laboratorist:  {},
	Customer:      {},
}

var closure = buildClosure()

func buildClosure() map[Role]map[Role]struct{} {
	out := make(map[Role]map[Role]struct{}, len(children))
	for r := range children {
		set := map[Role]struct{}{}
		stack := []Role{r}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := set[cur]; seen {
				continue
			}
			set[cur] = struct{}{}
			stack = append(stack, children[cur]...)
		}
		out[r] = set
	}
	return out
}

// ParseRole returns the role named by s, or false when it is not a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := children[r]
	return r, ok
}

// RoleStrings returns Roles as plain strings.
func RoleStrings() []string {
	out := make([]string, len(Roles))
	for i, r := range Roles {
		out[i] = string(r)
	}
	return out
}

// Closure returns the roles whose permissions the given role inherits, itself included.
// Unknown roles yield nil.
func Closure(r Role) []Role {
	set, ok := closure[r]
	if !ok {
		return nil
	}
	out := make([]Role, 0, len(set))
	for _, candidate := range Roles {
		if _, ok := set[candidate]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// Authorize reports whether actual, through its closure, holds any of the required roles.
func Authorize(required []Role, actual Role) bool {
	set, ok := closure[actual]
	if !ok {
		return false
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// Require is Authorize returning a ForbiddenError on denial.
func Require(id Identity, required ...Role) error {
	if Authorize(required, id.Role) {
		return nil
	}
	return ForbiddenError{Required: required}
}

// Owned is implemented by resources with a single owning user.
type Owned interface {
	OwnerID() string
}

// CanMutate reports whether the identity may modify the resource.
func CanMutate(id Identity, resource Owned) bool {
	if id.Role == Administrator {
		return true
	}
	return id.ID != "" && resource.OwnerID() == id.ID
}

// RequireOwnership is CanMutate returning a ForbiddenError on denial.
func RequireOwnership(id Identity, resource Owned) error {
	if CanMutate(id, resource) {
		return nil
	}
	return ForbiddenError{Reason: "only the owner may modify this resource"}
}
