package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
	"taskline/internal/session"
)

// Intent is a recognized chat command.
type Intent string

const (
	IntentCreateTask   Intent = "create_task"
	IntentListTasks    Intent = "list_tasks"
	IntentViewTask     Intent = "view_task"
	IntentComment      Intent = "comment"
	IntentChangeStatus Intent = "change_status"
	IntentDeleteTask   Intent = "delete_task"
	IntentPromoteUser  Intent = "promote_user"
	IntentDemoteUser   Intent = "demote_user"
	IntentDeleteUser   Intent = "delete_user"
	IntentListUsers    Intent = "list_users"
	IntentFreeText     Intent = "free_text"
	IntentCancel       Intent = "cancel"
)

// Params carries the arguments an intent was parsed with. Unused fields
// stay at their zero value.
type Params struct {
	TaskID int64
	Text   string
	Status domain.Status
	Target string
	Query  engine.TaskQuery
}

// Kind classifies a failed dispatch for the presentation layer.
type Kind string

const (
	KindNone       Kind = ""
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindInvalid    Kind = "invalid"
	KindTransition Kind = "invalid_transition"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Result is what the chat surface renders. Prompt is set when the router
// is waiting for the caller's next free-text message.
type Result struct {
	OK        bool
	Data      any
	ErrorKind Kind
	Message   string
	Prompt    string
}

type Router struct {
	Engine   engine.Engine
	Sessions *session.Manager
	Log      *log.Logger
}

func New(e engine.Engine, s *session.Manager, logger *log.Logger) Router {
	return Router{Engine: e, Sessions: s, Log: logger}
}

// Dispatch executes one caller turn: either a parsed intent or free text
// completing a pending prompt.
func (r Router) Dispatch(ctx context.Context, caller string, intent Intent, p Params) Result {
	switch intent {
	case IntentCreateTask:
		if p.Text == "" {
			r.Sessions.AwaitTaskDescription(caller)
			return Result{OK: true, Prompt: "Send the task description."}
		}
		r.Sessions.Clear(caller)
		t, err := r.Engine.CreateTask(ctx, caller, p.Text)
		return r.wrap(t, err, fmt.Sprintf("Task #%d created.", t.ID))

	case IntentListTasks:
		page, err := r.Engine.ListTasks(ctx, caller, p.Query)
		return r.wrap(page, err, "")

	case IntentViewTask:
		card, err := r.Engine.GetTaskCard(ctx, caller, p.TaskID)
		return r.wrap(card, err, "")

	case IntentComment:
		if p.Text == "" {
			r.Sessions.AwaitComment(caller, p.TaskID)
			return Result{OK: true, Prompt: fmt.Sprintf("Send the comment for task #%d.", p.TaskID)}
		}
		r.Sessions.Clear(caller)
		c, err := r.Engine.AddComment(ctx, caller, p.TaskID, p.Text)
		return r.wrap(c, err, fmt.Sprintf("Comment added to task #%d.", p.TaskID))

	case IntentChangeStatus:
		t, err := r.Engine.ChangeStatus(ctx, caller, p.TaskID, p.Status)
		return r.wrap(t, err, fmt.Sprintf("Task #%d is now %s.", p.TaskID, p.Status))

	case IntentDeleteTask:
		err := r.Engine.DeleteTask(ctx, caller, p.TaskID)
		return r.wrap(nil, err, fmt.Sprintf("Task #%d deleted.", p.TaskID))

	case IntentPromoteUser:
		err := r.Engine.SetUserRole(ctx, caller, p.Target, domain.RoleManager)
		return r.wrap(nil, err, fmt.Sprintf("%s is now a manager.", p.Target))

	case IntentDemoteUser:
		err := r.Engine.SetUserRole(ctx, caller, p.Target, domain.RoleUser)
		return r.wrap(nil, err, fmt.Sprintf("%s is now a regular user.", p.Target))

	case IntentDeleteUser:
		err := r.Engine.DeleteUser(ctx, caller, p.Target, false)
		return r.wrap(nil, err, fmt.Sprintf("%s removed.", p.Target))

	case IntentListUsers:
		users, err := r.Engine.ListUsers(ctx, caller)
		return r.wrap(users, err, "")

	case IntentCancel:
		r.Sessions.Clear(caller)
		return Result{OK: true, Message: "Cancelled."}

	case IntentFreeText:
		return r.freeText(ctx, caller, p.Text)
	}
	return Result{ErrorKind: KindInvalid, Message: fmt.Sprintf("unknown intent %q", intent)}
}

// freeText completes a pending prompt if one exists; otherwise the
// message is not understood.
func (r Router) freeText(ctx context.Context, caller, text string) Result {
	state, taskID := r.Sessions.Get(caller)
	switch state {
	case session.AwaitingTaskDescription:
		r.Sessions.Clear(caller)
		return r.Dispatch(ctx, caller, IntentCreateTask, Params{Text: text})
	case session.AwaitingComment:
		r.Sessions.Clear(caller)
		return r.Dispatch(ctx, caller, IntentComment, Params{TaskID: taskID, Text: text})
	}
	return Result{ErrorKind: KindInvalid, Message: "I did not understand that. Try a command."}
}

func (r Router) wrap(data any, err error, message string) Result {
	if err != nil {
		kind, msg := r.classify(err)
		return Result{ErrorKind: kind, Message: msg}
	}
	return Result{OK: true, Data: data, Message: message}
}

func (r Router) classify(err error) (Kind, string) {
	var forbidden auth.ForbiddenError
	var transition engine.InvalidTransitionError
	var validation engine.ValidationError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return KindNotFound, "Nothing with that id."
	case errors.As(err, &forbidden):
		return KindForbidden, forbidden.Error()
	case errors.As(err, &transition):
		return KindTransition, transition.Error()
	case errors.As(err, &validation):
		return KindInvalid, validation.Error()
	case errors.Is(err, repo.ErrConflict):
		return KindConflict, err.Error()
	}
	if r.Log != nil {
		r.Log.Printf("dispatch failed: %v", err)
	}
	return KindInternal, "Something went wrong."
}
