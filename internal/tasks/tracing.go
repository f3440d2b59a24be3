package tasks

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedRepo records one span per store call. ErrNotFound and validation
// failures are outcomes, not span errors.
type TracedRepo struct {
	base   Repository
	system string
}

func NewTracedRepo(base Repository, system string) *TracedRepo {
	return &TracedRepo{base: base, system: system}
}

func (r *TracedRepo) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", r.system),
		attribute.String("db.operation", op),
	)
	return otel.Tracer("tasks").Start(ctx, "tasks."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("task.found", false))
	case errors.As(err, &vErr), errors.Is(err, ErrEmptyUpdate), errors.Is(err, ErrImmutableID), errors.Is(err, ErrInvalidKey):
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (r *TracedRepo) List(ctx context.Context, f Filter) ([]Task, error) {
	ctx, span := r.start(ctx, "list", attribute.String("task.priority", f.Priority))
	out, err := r.base.List(ctx, f)
	span.SetAttributes(attribute.Int("task.count", len(out)))
	finish(span, err)
	return out, err
}

func (r *TracedRepo) Create(ctx context.Context, t NewTask) (InsertResult, error) {
	ctx, span := r.start(ctx, "create")
	res, err := r.base.Create(ctx, t)
	if err == nil {
		span.SetAttributes(attribute.String("task.id", res.InsertedID))
	}
	finish(span, err)
	return res, err
}

func (r *TracedRepo) Get(ctx context.Context, id primitive.ObjectID) (Task, error) {
	ctx, span := r.start(ctx, "get", attribute.String("task.id", id.Hex()))
	t, err := r.base.Get(ctx, id)
	finish(span, err)
	return t, err
}

func (r *TracedRepo) Update(ctx context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error) {
	ctx, span := r.start(ctx, "update",
		attribute.String("task.id", id.Hex()),
		attribute.Int("task.fields", len(fields)),
	)
	res, err := r.base.Update(ctx, id, fields)
	finish(span, err)
	return res, err
}

func (r *TracedRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, span := r.start(ctx, "delete", attribute.String("task.id", id.Hex()))
	err := r.base.Delete(ctx, id)
	finish(span, err)
	return err
}

func (r *TracedRepo) Ping(ctx context.Context) error {
	ctx, span := r.start(ctx, "ping")
	err := r.base.Ping(ctx)
	finish(span, err)
	return err
}
