package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type envelopeResp struct {
	Status  bool            `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer() (*chi.Mux, *InMemoryRepo) {
	repo := NewInMemoryRepo()
	r := chi.NewRouter()
	RegisterRoutes(r, repo, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return r, repo
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelopeResp) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	var env envelopeResp
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse JSON: %v (body=%s)", err, rec.Body.String())
	}
	return rec, env
}

func createVia(t *testing.T, r http.Handler, body string) string {
	t.Helper()
	rec, env := do(t, r, http.MethodPost, "/task", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var res InsertResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("parse insert result: %v", err)
	}
	if !res.Acknowledged || res.InsertedID == "" {
		t.Fatalf("bad insert result: %+v", res)
	}
	return res.InsertedID
}

func TestPostTask_ThenGet(t *testing.T) {
	r, _ := newTestServer()

	id := createVia(t, r, `{"title":"learn chi","description":"read the docs","priority":"high"}`)

	rec, env := do(t, r, http.MethodGet, "/task/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if !env.Status {
		t.Fatalf("expected status=true")
	}
	var got map[string]any
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse task: %v", err)
	}
	want := map[string]any{
		"id":          id,
		"title":       "learn chi",
		"description": "read the docs",
		"priority":    "high",
		"isCompleted": false,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestPostTask_MissingFields(t *testing.T) {
	cases := map[string]string{
		"no title":         `{"description":"d"}`,
		"no description":   `{"title":"t"}`,
		"blank title":      `{"title":"   ","description":"d"}`,
		"empty object":     `{}`,
		"only isCompleted": `{"isCompleted":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			r, repo := newTestServer()

			rec, env := do(t, r, http.MethodPost, "/task", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d, body=%s", rec.Code, rec.Body.String())
			}
			if env.Status {
				t.Errorf("expected status=false")
			}
			var fields []FieldError
			if err := json.Unmarshal(env.Data, &fields); err != nil || len(fields) == 0 {
				t.Errorf("expected field details, got %s", env.Data)
			}
			if repo.Len() != 0 {
				t.Fatalf("expected no record to be written, got %d", repo.Len())
			}
		})
	}
}

func TestPostTask_InvalidJSON(t *testing.T) {
	r, repo := newTestServer()

	rec, env := do(t, r, http.MethodPost, "/task", `{"title":`) // truncated/invalid JSON
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if env.Message != "invalid JSON" {
		t.Errorf("expected message 'invalid JSON', got %q", env.Message)
	}
	if repo.Len() != 0 {
		t.Fatalf("expected empty repo")
	}
}

func TestGetTasks_PriorityFilter(t *testing.T) {
	r, _ := newTestServer()

	high1 := createVia(t, r, `{"title":"a","description":"a","priority":"high"}`)
	createVia(t, r, `{"title":"b","description":"b","priority":"low"}`)
	high2 := createVia(t, r, `{"title":"c","description":"c","priority":"high"}`)
	createVia(t, r, `{"title":"d","description":"d"}`)

	list := func(path string) []Task {
		t.Helper()
		rec, env := do(t, r, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var out []Task
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("parse list: %v", err)
		}
		return out
	}

	got := list("/tasks?priority=high")
	if len(got) != 2 {
		t.Fatalf("expected 2 high tasks, got %d", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[high1] || !ids[high2] {
		t.Errorf("unexpected high tasks: %+v", got)
	}
	for _, task := range got {
		if task.Priority != "high" {
			t.Errorf("unexpected priority %q", task.Priority)
		}
	}

	if all := list("/tasks"); len(all) != 4 {
		t.Fatalf("expected 4 tasks without filter, got %d", len(all))
	}
	if all := list("/tasks?priority="); len(all) != 4 {
		t.Fatalf("expected empty priority to mean no filter, got %d", len(all))
	}
	if none := list("/tasks?priority=urgent"); len(none) != 0 {
		t.Fatalf("expected no urgent tasks, got %d", len(none))
	}
}

func TestGetTasks_EmptyIsArray(t *testing.T) {
	r, _ := newTestServer()

	rec, env := do(t, r, http.MethodGet, "/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if string(env.Data) != "[]" {
		t.Fatalf("expected empty array, got %s", env.Data)
	}
}

func TestGetTask_NotFoundAndMalformed(t *testing.T) {
	r, _ := newTestServer()

	rec, env := do(t, r, http.MethodGet, "/task/"+primitive.NewObjectID().Hex(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if env.Status || env.Message != ErrNotFound.Error() {
		t.Errorf("unexpected envelope: %+v", env)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec, env = do(t, r, method, "/task/not-an-id", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400 for malformed id, got %d", method, rec.Code)
		}
		if env.Message != ErrInvalidID.Error() {
			t.Errorf("%s: unexpected message %q", method, env.Message)
		}
	}
	rec, _ = do(t, r, http.MethodPut, "/task/not-an-id", `{"isCompleted":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PUT: expected status 400 for malformed id, got %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	r, repo := newTestServer()
	id := createVia(t, r, `{"title":"a","description":"b"}`)

	before := repo.Len()
	rec, _ := do(t, r, http.MethodDelete, "/task/"+primitive.NewObjectID().Hex(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if repo.Len() != before {
		t.Fatalf("collection changed on missed delete: %d -> %d", before, repo.Len())
	}

	rec, env := do(t, r, http.MethodDelete, "/task/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !env.Status || env.Message != "task deleted" || len(env.Data) != 0 {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if repo.Len() != 0 {
		t.Fatalf("expected task to be removed")
	}

	rec, _ = do(t, r, http.MethodGet, "/task/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted task to be gone, got %d", rec.Code)
	}
}

func TestPutTask_NoUpsert(t *testing.T) {
	r, repo := newTestServer()
	createVia(t, r, `{"title":"a","description":"b"}`)

	before := repo.Len()
	rec, _ := do(t, r, http.MethodPut, "/task/"+primitive.NewObjectID().Hex(), `{"isCompleted":true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if repo.Len() != before {
		t.Fatalf("update created a record: %d -> %d", before, repo.Len())
	}
}

func TestPutTask_PartialOverwrite(t *testing.T) {
	r, _ := newTestServer()
	id := createVia(t, r, `{"title":"keep","description":"also keep","priority":"low"}`)
	other := createVia(t, r, `{"title":"other","description":"untouched"}`)

	rec, env := do(t, r, http.MethodPut, "/task/"+id, `{"isCompleted":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var res UpdateResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("parse update result: %v", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Errorf("unexpected update result: %+v", res)
	}

	_, env = do(t, r, http.MethodGet, "/task/"+id, "")
	var got Task
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse task: %v", err)
	}
	if !got.IsCompleted || got.Title != "keep" || got.Description != "also keep" || got.Priority != "low" {
		t.Errorf("unexpected task after update: %+v", got)
	}

	_, env = do(t, r, http.MethodGet, "/task/"+other, "")
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse task: %v", err)
	}
	if got.IsCompleted {
		t.Errorf("update leaked into another task")
	}

	// same values again: matched but not modified
	_, env = do(t, r, http.MethodPut, "/task/"+id, `{"isCompleted":true}`)
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("parse update result: %v", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 0 {
		t.Errorf("expected matched-only result, got %+v", res)
	}
}

func TestPutTask_ArbitraryFieldsKept(t *testing.T) {
	r, _ := newTestServer()
	id := createVia(t, r, `{"title":"a","description":"b"}`)

	rec, _ := do(t, r, http.MethodPut, "/task/"+id, `{"dueDate":"2026-01-01","tags":["x"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	_, env := do(t, r, http.MethodGet, "/task/"+id, "")
	var got map[string]any
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse task: %v", err)
	}
	if got["dueDate"] != "2026-01-01" {
		t.Errorf("expected dueDate to be stored, got %v", got["dueDate"])
	}
	if got["title"] != "a" {
		t.Errorf("expected title untouched, got %v", got["title"])
	}
}

func TestPutTask_RejectedBodies(t *testing.T) {
	r, _ := newTestServer()
	id := createVia(t, r, `{"title":"a","description":"b"}`)

	cases := map[string]string{
		"empty object": `{}`,
		"null":         `null`,
		"array":        `[1,2]`,
		"truncated":    `{"title":`,
		"id change":    `{"id":"abc"}`,
		"_id change":   `{"_id":"abc"}`,
		"dotted key":   `{"meta.owner":"ana"}`,
		"operator key": `{"$inc":{"n":1}}`,
		"empty key":    `{"":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, env := do(t, r, http.MethodPut, "/task/"+id, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d, body=%s", rec.Code, rec.Body.String())
			}
			if env.Status {
				t.Errorf("expected status=false")
			}
		})
	}
}

func TestPutTask_EmptyPriorityRendered(t *testing.T) {
	r, _ := newTestServer()
	id := createVia(t, r, `{"title":"a","description":"b","priority":"high"}`)

	rec, _ := do(t, r, http.MethodPut, "/task/"+id, `{"priority":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	_, env := do(t, r, http.MethodGet, "/task/"+id, "")
	var got map[string]any
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse task: %v", err)
	}
	p, ok := got["priority"]
	if !ok || p != "" {
		t.Fatalf("expected stored empty priority in response, got %s", env.Data)
	}
}

type failingRepo struct {
	*InMemoryRepo
	err error
}

func (f failingRepo) List(context.Context, Filter) ([]Task, error) { return nil, f.err }

func (f failingRepo) Create(context.Context, NewTask) (InsertResult, error) {
	return InsertResult{}, f.err
}

func (f failingRepo) Get(context.Context, primitive.ObjectID) (Task, error) { return Task{}, f.err }

func (f failingRepo) Update(context.Context, primitive.ObjectID, map[string]any) (UpdateResult, error) {
	return UpdateResult{}, f.err
}

func (f failingRepo) Delete(context.Context, primitive.ObjectID) error { return f.err }

func TestStoreFailure_Returns500(t *testing.T) {
	repo := failingRepo{InMemoryRepo: NewInMemoryRepo(), err: errors.New("connection reset")}
	r := chi.NewRouter()
	RegisterRoutes(r, repo, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/tasks", ""},
		{http.MethodPost, "/task", `{"title":"a","description":"b"}`},
		{http.MethodGet, "/task/" + primitive.NewObjectID().Hex(), ""},
		{http.MethodPut, "/task/" + primitive.NewObjectID().Hex(), `{"isCompleted":true}`},
		{http.MethodDelete, "/task/" + primitive.NewObjectID().Hex(), ""},
	} {
		rec, env := do(t, r, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: expected 500, got %d", tc.method, tc.path, rec.Code)
		}
		if !strings.Contains(env.Message, "connection reset") {
			t.Errorf("%s %s: expected store error in message, got %q", tc.method, tc.path, env.Message)
		}
	}
}
