// Package sqlite is the document store: news articles, decisions and run
// artifacts kept as JSON rows keyed by collection and subject.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyike/stockbot/pkg/sqlite"
)

// Collections written by the mode orchestrators.
const (
	CollectionNews      = "news"
	CollectionDecisions = "decisions"
	CollectionAnalyses  = "analyses"
)

// tsLayout is fixed width so that ts sorts and compares as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// namespace seeds the v5 document ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dyike/stockbot/documents"))

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Document is one stored row. Body holds the JSON the caller persisted.
type Document struct {
	ID         string
	Collection string
	Subject    string
	Body       json.RawMessage
	Metadata   map[string]string
	Timestamp  time.Time
	CreatedAt  string
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Filter narrows Query. Zero values match everything; Limit defaults to 100.
type Filter struct {
	Subject string
	Since   time.Time
	Limit   int
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    ts TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_subject ON documents(collection, subject, ts);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// DocumentID is the deterministic v5 id of a (collection, subject, timestamp) triple.
func DocumentID(collection, subject string, ts time.Time) string {
	key := collection + "|" + subject + "|" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// Persist stores doc stamped with the current time.
func (s *Store) Persist(ctx context.Context, collection, subject string, doc any, metadata map[string]string) error {
	_, err := s.PersistAt(ctx, collection, subject, s.now(), doc, metadata)
	return err
}

// PersistAt stores doc as a single row and returns its id. Writing the same
// triple twice leaves the first row in place.
func (s *Store) PersistAt(ctx context.Context, collection, subject string, ts time.Time, doc any, metadata map[string]string) (string, error) {
	if strings.TrimSpace(collection) == "" {
		return "", fmt.Errorf("collection is required")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal %s document: %w", collection, err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	id := DocumentID(collection, subject, ts)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (id, collection, subject, body, metadata, ts)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, id, collection, subject, string(body), string(meta), ts.UTC().Format(tsLayout))
	if err != nil {
		return "", fmt.Errorf("insert %s document: %w", collection, err)
	}
	return id, nil
}

// Query returns documents of a collection, newest first.
func (s *Store) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
SELECT id, collection, subject, body, metadata, ts, created_at
FROM documents
WHERE collection = ?`
	args := []any{collection}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.Since.UTC().Format(tsLayout))
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s documents: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc       Document
			body      string
			meta      string
			ts        string
			createdAt sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Subject, &body, &meta, &ts, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Body = json.RawMessage(body)
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
		if parsed, err := time.Parse(tsLayout, ts); err == nil {
			doc.Timestamp = parsed
		}
		doc.CreatedAt = createdAt.String
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Count reports how many documents a collection holds.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s documents: %w", collection, err)
	}
	return n, nil
}
