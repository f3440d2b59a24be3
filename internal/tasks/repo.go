package tasks

import (
	"context"
	"maps"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Repository is the task store. Get, Update and Delete return ErrNotFound
// when no document has the given id.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Task, error)
	Create(ctx context.Context, t NewTask) (InsertResult, error)
	Get(ctx context.Context, id primitive.ObjectID) (Task, error)
	Update(ctx context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Ping(ctx context.Context) error
}

type InMemoryRepo struct {
	mu    sync.Mutex
	store map[primitive.ObjectID]map[string]any
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		store: make(map[primitive.ObjectID]map[string]any),
	}
}

func (r *InMemoryRepo) List(_ context.Context, f Filter) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]primitive.ObjectID, 0, len(r.store))
	for id, doc := range r.store {
		if f.matches(doc) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, taskFromDocument(r.store[id]))
	}
	return out, nil
}

func (r *InMemoryRepo) Create(_ context.Context, t NewTask) (InsertResult, error) {
	if err := t.Validate(); err != nil {
		return InsertResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := primitive.NewObjectID()
	doc := t.document()
	doc[keyID] = id
	r.store[id] = doc
	return InsertResult{Acknowledged: true, InsertedID: id.Hex()}, nil
}

func (r *InMemoryRepo) Get(_ context.Context, id primitive.ObjectID) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.store[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return taskFromDocument(doc), nil
}

func (r *InMemoryRepo) Update(_ context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error) {
	if err := checkUpdate(fields); err != nil {
		return UpdateResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.store[id]
	if !ok {
		return UpdateResult{}, ErrNotFound
	}
	next := maps.Clone(doc)
	modified := applyFields(next, fields)
	r.store[id] = next

	res := UpdateResult{Acknowledged: true, MatchedCount: 1}
	if modified {
		res.ModifiedCount = 1
	}
	return res, nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store[id]; !ok {
		return ErrNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *InMemoryRepo) Ping(context.Context) error { return nil }

// Len returns the number of stored tasks.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store)
}

// applyFields overwrites doc with fields and reports whether anything changed.
func applyFields(doc, fields map[string]any) bool {
	modified := false
	for k, v := range fields {
		if old, ok := doc[k]; !ok || !reflect.DeepEqual(old, v) {
			modified = true
		}
		doc[k] = v
	}
	return modified
}
