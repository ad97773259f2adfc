package dedupe

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists indexed documents in a sqlite database (conventionally
// `_ledger/combined_dedupe.sqlite`) so successive screening runs build one
// combined index instead of re-reading every shard.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the dedupe database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dedupe db %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		text   TEXT NOT NULL,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Put upserts one document.
func (s *Store) Put(docID, text string) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO documents (doc_id, text) VALUES (?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET text = excluded.text`,
		docID, text)
	if err != nil {
		return fmt.Errorf("persist document %s: %w", docID, err)
	}
	return nil
}

// Each streams every stored document into fn in insertion order.
func (s *Store) Each(fn func(docID, text string)) error {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT doc_id, text FROM documents ORDER BY added_at, doc_id`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var docID, text string
		if err := rows.Scan(&docID, &text); err != nil {
			return err
		}
		fn(docID, text)
	}
	return rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
