package domain

import "time"

type Role string

const (
	RoleWorker  Role = "worker"
	RoleLeader  Role = "leader"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// roleRank orders roles for permission checks.
var roleRank = map[Role]int{
	RoleWorker:  1,
	RoleLeader:  2,
	RoleManager: 3,
	RoleAdmin:   4,
}

// HasPermission returns true if the role grants at least minRole's access.
func (r Role) HasPermission(minRole Role) bool {
	return roleRank[r] >= roleRank[minRole]
}

// User is an account known to the system: worker, team leader, manager or admin.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the authenticated caller passed into every mutating operation.
// It is produced by the auth middleware from a bearer token.
type Principal struct {
	ID   string
	Role Role
}

// CanAssign returns true if the principal may perform assignment-mutating
// operations.
func (p Principal) CanAssign() bool {
	return p.Role == RoleManager || p.Role == RoleAdmin
}
