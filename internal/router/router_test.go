package router_test

import (
	"context"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/paging"
	"taskline/internal/router"
	"taskline/internal/session"
)

func newTestRouter(t *testing.T) (router.Router, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("root")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.RegisterUser(ctx, "root"); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	return router.New(eng, session.NewManager(time.Minute), nil), ctx
}

func TestCreateTaskDirect(t *testing.T) {
	rt, ctx := newTestRouter(t)
	res := rt.Dispatch(ctx, "root", router.IntentCreateTask, router.Params{Text: "ship it"})
	if !res.OK {
		t.Fatalf("dispatch failed: %s %s", res.ErrorKind, res.Message)
	}
	task, ok := res.Data.(domain.Task)
	if !ok || task.Description != "ship it" {
		t.Fatalf("unexpected data %#v", res.Data)
	}
}

func TestCreateTaskPromptFlow(t *testing.T) {
	rt, ctx := newTestRouter(t)

	res := rt.Dispatch(ctx, "root", router.IntentCreateTask, router.Params{})
	if !res.OK || res.Prompt == "" {
		t.Fatalf("expected prompt, got %+v", res)
	}

	res = rt.Dispatch(ctx, "root", router.IntentFreeText, router.Params{Text: "described later"})
	if !res.OK {
		t.Fatalf("free text completion failed: %s %s", res.ErrorKind, res.Message)
	}
	task, ok := res.Data.(domain.Task)
	if !ok || task.Description != "described later" {
		t.Fatalf("unexpected data %#v", res.Data)
	}

	// prompt consumed: further free text is not understood
	res = rt.Dispatch(ctx, "root", router.IntentFreeText, router.Params{Text: "hello?"})
	if res.OK || res.ErrorKind != router.KindInvalid {
		t.Fatalf("expected invalid for stray free text, got %+v", res)
	}
}

func TestCommentPromptFlowAndCancel(t *testing.T) {
	rt, ctx := newTestRouter(t)
	created := rt.Dispatch(ctx, "root", router.IntentCreateTask, router.Params{Text: "commentable"})
	task := created.Data.(domain.Task)

	res := rt.Dispatch(ctx, "root", router.IntentComment, router.Params{TaskID: task.ID})
	if !res.OK || res.Prompt == "" {
		t.Fatalf("expected comment prompt, got %+v", res)
	}

	// cancel abandons the prompt
	res = rt.Dispatch(ctx, "root", router.IntentCancel, router.Params{})
	if !res.OK {
		t.Fatalf("cancel failed: %+v", res)
	}
	res = rt.Dispatch(ctx, "root", router.IntentFreeText, router.Params{Text: "orphaned"})
	if res.OK || res.ErrorKind != router.KindInvalid {
		t.Fatalf("expected invalid after cancel, got %+v", res)
	}

	// full flow
	rt.Dispatch(ctx, "root", router.IntentComment, router.Params{TaskID: task.ID})
	res = rt.Dispatch(ctx, "root", router.IntentFreeText, router.Params{Text: "looks good"})
	if !res.OK {
		t.Fatalf("comment completion failed: %+v", res)
	}
	c, ok := res.Data.(domain.Comment)
	if !ok || c.Text != "looks good" || c.TaskID != task.ID {
		t.Fatalf("unexpected comment %#v", res.Data)
	}
}

func TestErrorKinds(t *testing.T) {
	rt, ctx := newTestRouter(t)

	res := rt.Dispatch(ctx, "root", router.IntentViewTask, router.Params{TaskID: 404})
	if res.ErrorKind != router.KindNotFound {
		t.Fatalf("missing task kind = %s", res.ErrorKind)
	}

	created := rt.Dispatch(ctx, "alice", router.IntentCreateTask, router.Params{Text: "alice's"})
	task := created.Data.(domain.Task)

	res = rt.Dispatch(ctx, "alice", router.IntentChangeStatus, router.Params{TaskID: task.ID, Status: domain.StatusInProgress})
	if res.ErrorKind != router.KindForbidden {
		t.Fatalf("user change status kind = %s", res.ErrorKind)
	}

	res = rt.Dispatch(ctx, "root", router.IntentChangeStatus, router.Params{TaskID: task.ID, Status: domain.StatusDone})
	if res.ErrorKind != router.KindTransition {
		t.Fatalf("new->done kind = %s", res.ErrorKind)
	}

	res = rt.Dispatch(ctx, "root", router.IntentCreateTask, router.Params{Text: "   "})
	if res.ErrorKind != router.KindInvalid {
		t.Fatalf("blank description kind = %s", res.ErrorKind)
	}

	res = rt.Dispatch(ctx, "alice", router.IntentListUsers, router.Params{})
	if res.ErrorKind != router.KindForbidden {
		t.Fatalf("user list kind = %s", res.ErrorKind)
	}
}

func TestUserAdminIntents(t *testing.T) {
	rt, ctx := newTestRouter(t)
	rt.Dispatch(ctx, "bob", router.IntentCreateTask, router.Params{Text: "register bob"})

	res := rt.Dispatch(ctx, "root", router.IntentPromoteUser, router.Params{Target: "bob"})
	if !res.OK {
		t.Fatalf("promote failed: %+v", res)
	}
	res = rt.Dispatch(ctx, "bob", router.IntentListTasks, router.Params{Query: engine.TaskQuery{Page: 1}})
	if !res.OK {
		t.Fatalf("manager list failed: %+v", res)
	}
	page := res.Data.(paging.Page)
	if page.TotalItems != 1 {
		t.Fatalf("manager sees %d tasks", page.TotalItems)
	}

	res = rt.Dispatch(ctx, "root", router.IntentDemoteUser, router.Params{Target: "bob"})
	if !res.OK {
		t.Fatalf("demote failed: %+v", res)
	}

	// bob still owns a task, so deleting him conflicts
	res = rt.Dispatch(ctx, "root", router.IntentDeleteUser, router.Params{Target: "bob"})
	if res.ErrorKind != router.KindConflict {
		t.Fatalf("delete user kind = %s", res.ErrorKind)
	}
}
