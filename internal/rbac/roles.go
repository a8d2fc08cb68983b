package rbac

// Role names. Keep these stable; they are minted into access tokens.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool { return role == RoleAgent || role == RoleAdmin }
