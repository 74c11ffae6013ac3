package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("root")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	if _, err := e.RegisterUser(context.Background(), "root"); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asRoot() map[string]string {
	return map[string]string{"X-Actor-Id": "root"}
}

func asActor(identity string) map[string]string {
	return map[string]string{"X-Actor-Id": identity}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status %d", res.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"description": "ship feature",
	}, asRoot())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != "new" || created.CreatedBy != "root" {
		t.Fatalf("created task %+v", created)
	}

	taskURL := srv.URL + "/v0/tasks/" + itoa(created.ID)

	// new -> done is rejected with 422
	res, data = doJSON(t, client, http.MethodPatch, taskURL+"/status", map[string]any{"status": "done"}, asRoot())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("direct done status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error envelope %s (%v)", data, err)
	}

	res, _ = doJSON(t, client, http.MethodPatch, taskURL+"/status", map[string]any{"status": "in_progress"}, asRoot())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("take status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL+"/status", map[string]any{"status": "done"}, asRoot())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done status %d: %s", res.StatusCode, data)
	}

	// comment and read the card back
	res, _ = doJSON(t, client, http.MethodPost, taskURL+"/comments", map[string]any{"text": "shipped"}, asRoot())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, taskURL, nil, asRoot())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("card status %d", res.StatusCode)
	}
	var card TaskCardResponse
	if err := json.Unmarshal(data, &card); err != nil {
		t.Fatalf("unmarshal card: %v", err)
	}
	if card.CommentCount != 1 || card.Comments[0].Text != "shipped" {
		t.Fatalf("card %+v", card)
	}

	res, _ = doJSON(t, client, http.MethodDelete, taskURL, nil, asRoot())
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, taskURL, nil, asRoot())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted task status %d", res.StatusCode)
	}
}

func TestForbiddenForPlainUser(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"description": "user work",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}

	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+itoa(created.ID)+"/status",
		map[string]any{"status": "in_progress"}, asActor("alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user change status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, asActor("alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user list users status %d", res.StatusCode)
	}

	// another plain user cannot read the task's comment thread
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(created.ID)+"/comments",
		map[string]any{"text": "mine"}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("author comment status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+itoa(created.ID)+"/comments", nil, asActor("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger comment read status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+itoa(created.ID)+"/comments",
		map[string]any{"text": "intrusion"}, asActor("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger comment write status %d", res.StatusCode)
	}
}

func TestUserAdminOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// register bob implicitly
	res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"description": "bob's task",
	}, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/users/bob/role",
		map[string]any{"role": "manager"}, asRoot())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promote status %d: %s", res.StatusCode, data)
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil || u.Role != "manager" {
		t.Fatalf("promoted user %s (%v)", data, err)
	}

	// root admin is immutable
	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/users/root/role",
		map[string]any{"role": "user"}, asActor("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("demote root status %d", res.StatusCode)
	}

	// bob owns a task: delete without reassign conflicts
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/users/bob", nil, asRoot())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("delete owning user status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/users/bob?reassign=true", nil, asRoot())
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete with reassign status %d", res.StatusCode)
	}
}

func TestListTasksPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 7; i++ {
		res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
			"description": "batch work",
		}, asRoot())
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d status %d", i, res.StatusCode)
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?page=2", nil, asRoot())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var page TaskPageResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 7 || page.TotalPages != 2 || page.Number != 2 || len(page.Items) != 2 {
		t.Fatalf("page %+v", page)
	}
	if !page.HasPrev || page.HasNext {
		t.Fatalf("page flags %+v", page)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
