package auth

import (
	"fmt"

	"taskline/internal/domain"
)

// Op identifies a policy-gated operation.
type Op string

const (
	OpCreateTask   Op = "task.create"
	OpViewTask     Op = "task.view"
	OpViewAllTasks Op = "task.view_all"
	OpChangeStatus Op = "task.change_status"
	OpDeleteTask   Op = "task.delete"
	OpComment      Op = "comment.add"
	OpViewComments Op = "comment.view"
	OpSetRole      Op = "user.set_role"
	OpDeleteUser   Op = "user.delete"
	OpListUsers    Op = "user.list"
)

// ForbiddenError indicates a policy denial.
type ForbiddenError struct {
	Op     Op
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("operation %s denied: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("operation %s denied", e.Op)
}

// Policy decides whether a caller may perform an operation. It is a pure
// function of the caller's stored role, the caller identity, the target,
// and the operation; it touches no storage itself.
type Policy struct {
	// RootAdmin is the deployment-configured identity whose ADMIN role is
	// irrevocable. It can never be demoted or deleted.
	RootAdmin string
}

func privileged(role domain.Role) bool {
	return role == domain.RoleManager || role == domain.RoleAdmin
}

// CheckTaskOp gates task and comment operations. owner is the identity
// that created the target task; it is empty for operations without a
// specific target (create, list).
func (p Policy) CheckTaskOp(op Op, caller domain.User, owner string) error {
	switch op {
	case OpCreateTask:
		// any registered role
		return nil
	case OpViewTask, OpComment, OpViewComments:
		// comments follow the task's visibility: the thread is part of
		// the task, so reading or extending it needs the same access
		if caller.Identity == owner || privileged(caller.Role) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only the task author or a manager may access this task"}
	case OpViewAllTasks, OpChangeStatus, OpDeleteTask:
		if privileged(caller.Role) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "manager or admin role required"}
	}
	return ForbiddenError{Op: op, Reason: "unknown operation"}
}

// CheckUserOp gates role mutation and user administration. target is the
// identity being acted on; it is empty for list operations.
func (p Policy) CheckUserOp(op Op, caller domain.User, target string) error {
	switch op {
	case OpListUsers:
		if caller.Role == domain.RoleAdmin {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "admin role required"}
	case OpSetRole, OpDeleteUser:
		if caller.Role != domain.RoleAdmin {
			return ForbiddenError{Op: op, Reason: "admin role required"}
		}
		if target == p.RootAdmin {
			return ForbiddenError{Op: op, Reason: "the root admin cannot be changed or removed"}
		}
		return nil
	}
	return ForbiddenError{Op: op, Reason: "unknown operation"}
}
