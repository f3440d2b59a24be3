package tasks

import (
	"encoding/json"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTaskFromDocument_MongoValues(t *testing.T) {
	id := primitive.NewObjectID()
	doc := bson.M{
		"_id":         id,
		"title":       "t",
		"description": "d",
		"priority":    "high",
		"isCompleted": true,
		"meta":        bson.D{{Key: "owner", Value: "ana"}},
		"tags":        bson.A{"x", int32(2)},
	}

	got := taskFromDocument(doc)
	if got.ID != id.Hex() || got.Title != "t" || got.Description != "d" || got.Priority != "high" || !got.IsCompleted {
		t.Fatalf("unexpected typed fields: %+v", got)
	}
	meta, ok := got.Extra["meta"].(map[string]any)
	if !ok || meta["owner"] != "ana" {
		t.Fatalf("expected nested document as map, got %#v", got.Extra["meta"])
	}
	tags, ok := got.Extra["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected array as slice, got %#v", got.Extra["tags"])
	}
}

func TestTaskJSON_Flattened(t *testing.T) {
	task := Task{
		ID:          "64b7f0c2a1b2c3d4e5f60718",
		Title:       "t",
		Description: "d",
		Extra: map[string]any{
			"dueDate": "2026-01-01",
			// a known key holding another type wins over the zero typed field
			"isCompleted": "yes",
		},
	}

	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["id"] != task.ID || got["title"] != "t" || got["dueDate"] != "2026-01-01" || got["isCompleted"] != "yes" {
		t.Fatalf("unexpected JSON: %s", raw)
	}
	if _, ok := got["priority"]; ok {
		t.Fatalf("empty priority should be omitted: %s", raw)
	}

	var back Task
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if back.ID != task.ID || back.Extra["dueDate"] != "2026-01-01" || back.Extra["isCompleted"] != "yes" {
		t.Fatalf("unexpected round trip: %+v", back)
	}
}

func TestTaskJSON_EmptyPriorityKept(t *testing.T) {
	task := taskFromDocument(map[string]any{
		"_id":         "64b7f0c2a1b2c3d4e5f60718",
		"title":       "t",
		"description": "d",
		"priority":    "",
		"isCompleted": false,
	})
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p, ok := got["priority"]; !ok || p != "" {
		t.Fatalf("expected empty priority key, got %s", raw)
	}
}

func TestCheckUpdate(t *testing.T) {
	cases := []struct {
		fields map[string]any
		want   error
	}{
		{map[string]any{}, ErrEmptyUpdate},
		{map[string]any{"id": "x"}, ErrImmutableID},
		{map[string]any{"_id": "x"}, ErrImmutableID},
		{map[string]any{"meta.owner": "ana"}, ErrInvalidKey},
		{map[string]any{"$set": map[string]any{}}, ErrInvalidKey},
		{map[string]any{"": 1}, ErrInvalidKey},
		{map[string]any{"dueDate": "2026-01-01", "isCompleted": true}, nil},
	}
	for _, tc := range cases {
		if err := checkUpdate(tc.fields); !errors.Is(err, tc.want) {
			t.Errorf("checkUpdate(%v) = %v, want %v", tc.fields, err, tc.want)
		}
	}
}

func TestNewTaskValidate(t *testing.T) {
	err := NewTask{}.Validate()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Fatalf("expected both fields reported, got %+v", vErr.Fields)
	}
	if vErr.Error() != "title is required; description is required" {
		t.Fatalf("unexpected message %q", vErr.Error())
	}
	if err := (NewTask{Title: "a", Description: "b"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseID(t *testing.T) {
	id := primitive.NewObjectID()
	got, err := ParseID(id.Hex())
	if err != nil || got != id {
		t.Fatalf("ParseID(%s) = %v, %v", id.Hex(), got, err)
	}
	for _, bad := range []string{"", "123", "zzzzzzzzzzzzzzzzzzzzzzzz"} {
		if _, err := ParseID(bad); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ParseID(%q): expected ErrInvalidID, got %v", bad, err)
		}
	}
}
