package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"go.mongodb.org/mongo-driver/bson/primitive"
	_ "modernc.org/sqlite"
)

// SQLiteRepo keeps each task as a JSON document in a single table.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Reasonable pragmas for an app server
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	// One writer at a time; Update reads and writes inside the same tx.
	db.SetMaxOpenConns(1)
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLiteRepo) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT id, doc FROM tasks`
	var args []any
	if f.Priority != "" {
		query += ` WHERE json_extract(doc, '$.priority') = ?`
		args = append(args, f.Priority)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Create(ctx context.Context, t NewTask) (InsertResult, error) {
	if err := t.Validate(); err != nil {
		return InsertResult{}, err
	}
	raw, err := sonic.ConfigStd.Marshal(t.document())
	if err != nil {
		return InsertResult{}, fmt.Errorf("encode task: %w", err)
	}
	id := primitive.NewObjectID()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, doc, created_at)
		VALUES (?, ?, ?)
	`, id.Hex(), string(raw), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return InsertResult{}, fmt.Errorf("insert task: %w", err)
	}
	return InsertResult{Acknowledged: true, InsertedID: id.Hex()}, nil
}

func (r *SQLiteRepo) Get(ctx context.Context, id primitive.ObjectID) (Task, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return decodeRow(id.Hex(), raw)
}

// Update rewrites the document inside a transaction so concurrent updates to
// the same task do not lose fields.
func (r *SQLiteRepo) Update(ctx context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error) {
	if err := checkUpdate(fields); err != nil {
		return UpdateResult{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return UpdateResult{}, ErrNotFound
	}
	if err != nil {
		return UpdateResult{}, fmt.Errorf("load task: %w", err)
	}

	var doc map[string]any
	if err := sonic.ConfigStd.UnmarshalFromString(raw, &doc); err != nil {
		return UpdateResult{}, fmt.Errorf("decode task %s: %w", id.Hex(), err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	next, err := sonic.ConfigStd.Marshal(doc)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("encode task: %w", err)
	}

	res := UpdateResult{Acknowledged: true, MatchedCount: 1}
	if string(next) == raw {
		return res, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET doc = ? WHERE id = ?`, string(next), id.Hex()); err != nil {
		return UpdateResult{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, fmt.Errorf("commit update: %w", err)
	}
	res.ModifiedCount = 1
	return res, nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id.Hex())
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyMigrations ensures schema exists
func (r *SQLiteRepo) ApplyMigrations(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	created_at TEXT NOT NULL
);
	`)
	return err
}

func decodeRow(id, raw string) (Task, error) {
	var doc map[string]any
	if err := sonic.ConfigStd.UnmarshalFromString(raw, &doc); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	doc[keyID] = id
	return taskFromDocument(doc), nil
}

// Helper to build DSN like: file:/absolute/path?_pragma=busy_timeout(5000)
func SQLiteFileDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file:" + filepath.ToSlash(abs) + "?_pragma=busy_timeout(5000)", nil
}
