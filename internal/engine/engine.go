package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/paging"
	"taskline/internal/repo"
)

// ValidationError indicates malformed input: empty text, unknown status
// or role value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError indicates a legal task and an illegal status move.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s", e.From, e.To)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Policy auth.Policy
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Policy: auth.Policy{RootAdmin: cfg.Admin.Root},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// RegisterUser implicitly registers an identity on first interaction with
// the configured default role. Registering a known identity is a no-op.
func (e Engine) RegisterUser(ctx context.Context, identity string) (domain.User, error) {
	if strings.TrimSpace(identity) == "" {
		return domain.User{}, ValidationError{Field: "identity", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	role := e.Config.Users.DefaultRole
	if identity == e.Policy.RootAdmin {
		role = domain.RoleAdmin
	}
	u, err := e.Repo.EnsureUser(ctx, tx, identity, role, e.nowString())
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateUser is the explicit admin create path; duplicates conflict.
func (e Engine) CreateUser(ctx context.Context, actor, identity string, role domain.Role) (domain.User, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Policy.CheckUserOp(auth.OpSetRole, caller, identity); err != nil {
		return domain.User{}, err
	}
	if strings.TrimSpace(identity) == "" {
		return domain.User{}, ValidationError{Field: "identity", Reason: "must not be empty"}
	}
	if !role.Valid() {
		return domain.User{}, ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	u := domain.User{Identity: identity, Role: role, CreatedAt: e.nowString()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// SetUserRole promotes or demotes a user. Admin only; the root admin can
// never be retargeted, regardless of the requested role.
func (e Engine) SetUserRole(ctx context.Context, actor, target string, role domain.Role) error {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return err
	}
	if err := e.Policy.CheckUserOp(auth.OpSetRole, caller, target); err != nil {
		return err
	}
	if !role.Valid() {
		return ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetUserRole(ctx, tx, target, role); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteUser removes a user. A user still owning tasks is not deleted
// unless reassign is set, in which case their tasks move to the root
// admin first.
func (e Engine) DeleteUser(ctx context.Context, actor, target string, reassign bool) error {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return err
	}
	if err := e.Policy.CheckUserOp(auth.OpDeleteUser, caller, target); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetUserTx(ctx, tx, target); err != nil {
		return err
	}
	owned, err := e.Repo.CountTasksByAuthor(ctx, tx, target)
	if err != nil {
		return err
	}
	if owned > 0 {
		if !reassign {
			return fmt.Errorf("user %s owns %d tasks: %w", target, owned, repo.ErrConflict)
		}
		if err := e.Repo.ReassignTasks(ctx, tx, target, e.Policy.RootAdmin); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteUser(ctx, tx, target); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListUsers(ctx context.Context, actor string) ([]domain.User, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := e.Policy.CheckUserOp(auth.OpListUsers, caller, ""); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx)
}

// CreateTask records a new task for the caller with the default status.
func (e Engine) CreateTask(ctx context.Context, actor, description string) (domain.Task, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Policy.CheckTaskOp(auth.OpCreateTask, caller, ""); err != nil {
		return domain.Task{}, err
	}
	if strings.TrimSpace(description) == "" {
		return domain.Task{}, ValidationError{Field: "description", Reason: "must not be empty"}
	}
	t := domain.Task{
		Description: description,
		Status:      e.Config.Tasks.DefaultStatus,
		CreatedBy:   caller.Identity,
		CreatedAt:   e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor string, id int64) (domain.Task, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Policy.CheckTaskOp(auth.OpViewTask, caller, t.CreatedBy); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskCard is a task together with its comment thread.
type TaskCard struct {
	Task         domain.Task      `json:"task"`
	Comments     []domain.Comment `json:"comments"`
	CommentCount int              `json:"comment_count"`
}

// GetTaskCard returns the task detail view: the task plus its comments
// in ascending creation order.
func (e Engine) GetTaskCard(ctx context.Context, actor string, id int64) (TaskCard, error) {
	t, err := e.GetTask(ctx, actor, id)
	if err != nil {
		return TaskCard{}, err
	}
	comments, err := e.Repo.ListComments(ctx, id)
	if err != nil {
		return TaskCard{}, err
	}
	return TaskCard{Task: t, Comments: comments, CommentCount: len(comments)}, nil
}

// TaskQuery bundles list filters and the requested page.
type TaskQuery struct {
	Status string
	Author string
	Period string
	From   string
	To     string
	Page   int
}

// ListTasks derives a filtered, paginated view. Non-privileged callers
// only ever see their own tasks; managers and admins see everything
// unless they narrow by author.
func (e Engine) ListTasks(ctx context.Context, actor string, q TaskQuery) (paging.Page, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return paging.Page{}, err
	}
	author := q.Author
	if err := e.Policy.CheckTaskOp(auth.OpViewAllTasks, caller, ""); err != nil {
		// viewing own tasks is always allowed to the owner, but asking
		// for someone else's listing is an explicit denial
		if q.Author != "" && q.Author != caller.Identity {
			return paging.Page{}, err
		}
		author = caller.Identity
	}
	if q.Status != "" && q.Status != paging.StatusAll {
		if _, err := domain.ParseStatus(q.Status); err != nil {
			return paging.Page{}, ValidationError{Field: "status", Reason: err.Error()}
		}
	}
	f := paging.Filter{
		Status: q.Status,
		Author: author,
		From:   q.From,
		To:     q.To,
		Format: e.Config.Dates.Format,
	}
	if q.Period != "" {
		from, to, err := paging.PeriodRange(q.Period, e.now(), e.Config.Dates.Format)
		if err != nil {
			return paging.Page{}, ValidationError{Field: "period", Reason: err.Error()}
		}
		f.From, f.To = from, to
	}
	candidates, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Author: author})
	if err != nil {
		return paging.Page{}, err
	}
	return paging.Apply(candidates, f, q.Page, e.Config.Paging.PageSize)
}

func ensureTransition(from, to domain.Status) error {
	switch from {
	case domain.StatusNew:
		if to == domain.StatusInProgress {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusDone {
			return nil
		}
	case domain.StatusDone:
		if to == domain.StatusInProgress {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// ChangeStatus applies a status transition along the lifecycle path
// new -> in_progress -> done, with done reopenable to in_progress.
func (e Engine) ChangeStatus(ctx context.Context, actor string, id int64, target domain.Status) (domain.Task, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if !target.Valid() {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Policy.CheckTaskOp(auth.OpChangeStatus, caller, t.CreatedBy); err != nil {
		return domain.Task{}, err
	}
	if err := ensureTransition(t.Status, target); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.SetTaskStatus(ctx, tx, id, target); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Status = target
	return t, nil
}

// TakeTask moves a new task into work.
func (e Engine) TakeTask(ctx context.Context, actor string, id int64) (domain.Task, error) {
	return e.ChangeStatus(ctx, actor, id, domain.StatusInProgress)
}

// CompleteTask finishes a task in progress.
func (e Engine) CompleteTask(ctx context.Context, actor string, id int64) (domain.Task, error) {
	return e.ChangeStatus(ctx, actor, id, domain.StatusDone)
}

// ReopenTask puts a done task back into work.
func (e Engine) ReopenTask(ctx context.Context, actor string, id int64) (domain.Task, error) {
	return e.ChangeStatus(ctx, actor, id, domain.StatusInProgress)
}

// DeleteTask removes a task and cascades its comments. Deleting an
// unknown id fails with not found.
func (e Engine) DeleteTask(ctx context.Context, actor string, id int64) error {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Policy.CheckTaskOp(auth.OpDeleteTask, caller, t.CreatedBy); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComment appends a remark to an existing task. The caller must be
// able to view the task.
func (e Engine) AddComment(ctx context.Context, actor string, taskID int64, text string) (domain.Comment, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return domain.Comment{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, ValidationError{Field: "text", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := e.Policy.CheckTaskOp(auth.OpComment, caller, t.CreatedBy); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		TaskID:    taskID,
		Author:    caller.Identity,
		Text:      text,
		CreatedAt: e.nowString(),
	}
	c, err = e.Repo.InsertComment(ctx, tx, c)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// ListComments returns a task's comments in ascending creation order.
// Visibility follows the task: only its author or a privileged role may
// read the thread.
func (e Engine) ListComments(ctx context.Context, actor string, taskID int64) ([]domain.Comment, error) {
	caller, err := e.requireCaller(ctx, actor)
	if err != nil {
		return nil, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.Policy.CheckTaskOp(auth.OpViewComments, caller, t.CreatedBy); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, taskID)
}

// requireCaller resolves the caller, registering unknown identities on
// first interaction.
func (e Engine) requireCaller(ctx context.Context, actor string) (domain.User, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.User{}, ValidationError{Field: "caller", Reason: "identity required"}
	}
	u, err := e.Repo.GetUser(ctx, actor)
	if errors.Is(err, repo.ErrNotFound) {
		return e.RegisterUser(ctx, actor)
	}
	return u, err
}
