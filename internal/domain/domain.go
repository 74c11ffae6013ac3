package domain

import "fmt"

// Role is the permission tier of a user.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// AllRoles lists the closed role set in grant order.
var AllRoles = []Role{RoleUser, RoleManager, RoleAdmin}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleManager, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Status is the lifecycle stage of a task.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// AllStatuses lists the closed status set in lifecycle order.
var AllStatuses = []Status{StatusNew, StatusInProgress, StatusDone}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusInProgress, StatusDone:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

type User struct {
	Identity  string `json:"identity"`
	Role      Role   `json:"role" enum:"user,manager,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status" enum:"new,in_progress,done"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
