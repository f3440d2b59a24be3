package tasks

import (
	"strings"

	"github.com/bytedance/sonic"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document keys shared by every backend.
const (
	keyID          = "_id"
	keyTitle       = "title"
	keyDescription = "description"
	keyPriority    = "priority"
	keyIsCompleted = "isCompleted"
)

// Task is a stored task document. Keys written by updates that are not one of
// the typed fields (or that hold a value of another type, or an empty
// priority) are kept in Extra and rendered next to the typed fields.
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    string
	IsCompleted bool
	Extra       map[string]any
}

func (t Task) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Extra)+5)
	for k, v := range t.Extra {
		out[k] = v
	}
	out["id"] = t.ID
	setIfAbsent(out, keyTitle, t.Title)
	setIfAbsent(out, keyDescription, t.Description)
	if t.Priority != "" {
		setIfAbsent(out, keyPriority, t.Priority)
	}
	setIfAbsent(out, keyIsCompleted, t.IsCompleted)
	return sonic.ConfigStd.Marshal(out)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return err
	}
	if id, ok := raw["id"]; ok {
		raw[keyID] = id
		delete(raw, "id")
	}
	*t = taskFromDocument(raw)
	return nil
}

func setIfAbsent(m map[string]any, k string, v any) {
	if _, ok := m[k]; !ok {
		m[k] = v
	}
}

// NewTask is the input of Repository.Create.
type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	IsCompleted bool   `json:"isCompleted"`
}

// Validate reports every missing required field.
func (n NewTask) Validate() error {
	var errs []FieldError
	if strings.TrimSpace(n.Title) == "" {
		errs = append(errs, FieldError{Field: keyTitle, Message: "title is required"})
	}
	if strings.TrimSpace(n.Description) == "" {
		errs = append(errs, FieldError{Field: keyDescription, Message: "description is required"})
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// document returns the stored form of n without an id.
func (n NewTask) document() map[string]any {
	doc := map[string]any{
		keyTitle:       n.Title,
		keyDescription: n.Description,
		keyIsCompleted: n.IsCompleted,
	}
	if n.Priority != "" {
		doc[keyPriority] = n.Priority
	}
	return doc
}

// Filter narrows List. An empty Priority matches every task.
type Filter struct {
	Priority string
}

func (f Filter) matches(doc map[string]any) bool {
	if f.Priority == "" {
		return true
	}
	p, ok := doc[keyPriority].(string)
	return ok && p == f.Priority
}

type InsertResult struct {
	Acknowledged bool   `json:"acknowledged"`
	InsertedID   string `json:"insertedId"`
}

type UpdateResult struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
}

// ParseID converts the hex form of a task id.
func ParseID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return id, nil
}

// checkUpdate rejects update documents that are empty, touch the id or use
// keys a store would read as a path or an operator.
func checkUpdate(fields map[string]any) error {
	if len(fields) == 0 {
		return ErrEmptyUpdate
	}
	for k := range fields {
		if k == keyID || k == "id" {
			return ErrImmutableID
		}
		if k == "" || strings.Contains(k, ".") || strings.HasPrefix(k, "$") {
			return ErrInvalidKey
		}
	}
	return nil
}

func taskFromDocument(doc map[string]any) Task {
	var t Task
	for k, v := range doc {
		v = normalize(v)
		switch k {
		case keyID:
			if s, ok := v.(string); ok {
				t.ID = s
				continue
			}
		case keyTitle:
			if s, ok := v.(string); ok {
				t.Title = s
				continue
			}
		case keyDescription:
			if s, ok := v.(string); ok {
				t.Description = s
				continue
			}
		case keyPriority:
			// an explicitly empty priority stays in Extra so it is still rendered
			if s, ok := v.(string); ok && s != "" {
				t.Priority = s
				continue
			}
		case keyIsCompleted:
			if b, ok := v.(bool); ok {
				t.IsCompleted = b
				continue
			}
		}
		if t.Extra == nil {
			t.Extra = make(map[string]any)
		}
		t.Extra[k] = v
	}
	return t
}

// normalize turns driver-specific values into plain JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalize(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalize(e)
		}
		return m
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
