package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ChangeFeed carries changed document paths between server instances.
type ChangeFeed interface {
	Publish(ctx context.Context, path string) error
	// Listen blocks, calling onChange for every published path, until ctx ends.
	Listen(ctx context.Context, onChange func(path string)) error
}

// PostgresStore keeps documents as JSONB rows in the documents table.
type PostgresStore struct {
	db   *sql.DB
	feed ChangeFeed
	hub  *hub
}

// NewPostgresStore returns a store over db. With a nil feed, live
// subscriptions only observe writes made through this instance.
func NewPostgresStore(db *sql.DB, feed ChangeFeed) *PostgresStore {
	return &PostgresStore{db: db, feed: feed, hub: newHub()}
}

// Run relays change notifications from the feed to local subscriptions
// until ctx is cancelled.
func (s *PostgresStore) Run(ctx context.Context) error {
	if s.feed == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.feed.Listen(ctx, s.hub.notify)
}

func (s *PostgresStore) Get(ctx context.Context, path string) (*DocumentSnapshot, error) {
	if !IsDocumentPath(path) {
		return nil, ErrInvalidPath
	}
	query := `
		SELECT data, create_time, update_time
		FROM documents
		WHERE path = $1
	`
	snap := &DocumentSnapshot{ID: ID(path), Path: path}
	var data []byte
	err := s.db.QueryRowContext(ctx, query, path).Scan(&data, &snap.CreateTime, &snap.UpdateTime)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	snap.Exists = true
	snap.Data = data
	return snap, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) (*QuerySnapshot, error) {
	if !IsCollectionPath(q.Collection) {
		return nil, ErrInvalidPath
	}
	var sb strings.Builder
	sb.WriteString(`SELECT path, data, create_time, update_time FROM documents WHERE collection = $1`)
	args := []any{q.Collection}
	for _, f := range q.Filters {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode filter %s: %w", f.Field, err)
		}
		args = append(args, f.Field, string(value))
		fmt.Fprintf(&sb, ` AND data->($%d::text) = $%d::jsonb`, len(args)-1, len(args))
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		if q.Direction == Desc {
			fmt.Fprintf(&sb, ` ORDER BY data->($%d::text) DESC NULLS LAST, id ASC`, len(args))
		} else {
			fmt.Fprintf(&sb, ` ORDER BY data->($%d::text) ASC NULLS FIRST, id ASC`, len(args))
		}
	} else {
		sb.WriteString(` ORDER BY id ASC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	result := &QuerySnapshot{ReadTime: time.Now().UTC()}
	for rows.Next() {
		snap := &DocumentSnapshot{Exists: true}
		var data []byte
		if err := rows.Scan(&snap.Path, &data, &snap.CreateTime, &snap.UpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		snap.ID = ID(snap.Path)
		snap.Data = data
		result.Docs = append(result.Docs, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) SubscribeQuery(ctx context.Context, q Query) *QueryIterator {
	return newQueryIterator(ctx, s.hub, q, s.Query)
}

func (s *PostgresStore) SubscribeDocument(ctx context.Context, path string) *DocumentIterator {
	return newDocumentIterator(ctx, s.hub, path, s.Get)
}

func (s *PostgresStore) Create(ctx context.Context, path string, data Data) error {
	if !IsDocumentPath(path) {
		return ErrInvalidPath
	}
	now := time.Now().UTC()
	payload, err := encode(data, now)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (path, collection, id, data, create_time, update_time)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)
		ON CONFLICT (path) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, path, Parent(path), ID(path), string(payload), now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	s.changed(ctx, path)
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	if !IsDocumentPath(path) {
		return ErrInvalidPath
	}
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	now := time.Now().UTC()
	payload, err := encode(data, now)
	if err != nil {
		return err
	}
	merged := "EXCLUDED.data"
	if o.merge {
		merged = "documents.data || EXCLUDED.data"
	}
	query := `
		INSERT INTO documents (path, collection, id, data, create_time, update_time)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)
		ON CONFLICT (path) DO UPDATE
		SET data = ` + merged + `, update_time = EXCLUDED.update_time
	`
	if _, err := s.db.ExecContext(ctx, query, path, Parent(path), ID(path), string(payload), now); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	s.changed(ctx, path)
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, path string, data Data) error {
	if !IsDocumentPath(path) {
		return ErrInvalidPath
	}
	now := time.Now().UTC()
	payload, err := encode(data, now)
	if err != nil {
		return err
	}
	query := `
		UPDATE documents
		SET data = data || $2::jsonb, update_time = $3
		WHERE path = $1
	`
	result, err := s.db.ExecContext(ctx, query, path, string(payload), now)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.changed(ctx, path)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	if !IsDocumentPath(path) {
		return ErrInvalidPath
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	s.changed(ctx, path)
	return nil
}

// changed announces a write. Without a working feed the local hub is
// notified directly so this instance's subscribers still see the change.
func (s *PostgresStore) changed(ctx context.Context, path string) {
	if s.feed == nil {
		s.hub.notify(path)
		return
	}
	if err := s.feed.Publish(ctx, path); err != nil {
		slog.Warn("docstore: change feed publish failed", "path", path, "error", err)
		s.hub.notify(path)
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
