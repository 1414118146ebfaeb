package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner           = "owner"
	RoleOperator        = "operator"
	RoleAgentSupervisor = "agent_supervisor"
)

func IsOwner(role string) bool { return role == RoleOwner }
