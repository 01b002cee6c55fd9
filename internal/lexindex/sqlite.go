package lexindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// recall_fts indexes only the text column; the identifying columns are
// UNINDEXED so they are stored for filtering but never tokenized.
const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS recall_fts USING fts5(
    owner_id UNINDEXED,
    kind UNINDEXED,
    target_id UNINDEXED,
    stream_id UNINDEXED,
    day UNINDEXED,
    text,
    tokenize='porter unicode61'
);
`

// SQLiteIndex is a single-file FTS5 index. Writes are serialized through one
// connection; WAL keeps readers unblocked.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the index at path. ":memory:" gives an
// ephemeral index for tests.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	dsn := "file::memory:?cache=shared"
	if path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc sqlite corrupts FTS writes under concurrent connections
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create fts table: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (x *SQLiteIndex) Upsert(ctx context.Context, ownerID, kind, targetID, streamID, day, text string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recall_fts WHERE owner_id = ? AND kind = ? AND target_id = ?`,
		ownerID, kind, targetID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recall_fts (owner_id, kind, target_id, stream_id, day, text) VALUES (?, ?, ?, ?, ?, ?)`,
		ownerID, kind, targetID, streamID, day, text); err != nil {
		return err
	}
	return tx.Commit()
}

func (x *SQLiteIndex) Delete(ctx context.Context, ownerID, kind, targetID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM recall_fts WHERE owner_id = ? AND kind = ? AND target_id = ?`,
		ownerID, kind, targetID)
	return err
}

func (x *SQLiteIndex) Search(ctx context.Context, ownerID, streamID, query string, topK int) ([]Hit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	q := `
        SELECT kind, target_id, stream_id, day, bm25(recall_fts) AS score
        FROM recall_fts
        WHERE recall_fts MATCH ? AND owner_id = ?`
	args := []interface{}{match, ownerID}
	if streamID != "" {
		q += ` AND stream_id = ?`
		args = append(args, streamID)
	}
	q += ` ORDER BY score LIMIT ?`
	args = append(args, topK)

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.Kind, &h.TargetID, &h.StreamID, &h.Day, &score); err != nil {
			return nil, err
		}
		// bm25() is negative, more negative is better
		h.Score = -score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (x *SQLiteIndex) ListRecent(ctx context.Context, ownerID, streamID string, limit int) ([]Hit, error) {
	q := `
        SELECT kind, target_id, stream_id, day
        FROM recall_fts
        WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if streamID != "" {
		q += ` AND stream_id = ?`
		args = append(args, streamID)
	}
	q += ` ORDER BY day DESC, target_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Kind, &h.TargetID, &h.StreamID, &h.Day); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (x *SQLiteIndex) Close() error { return x.db.Close() }

// ftsQuery rewrites free text into a safe FTS5 MATCH expression: each term is
// reduced to its word characters and quoted, so user input cannot inject
// query syntax. Terms are ANDed.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if r == '"' || r == '\'' || r == '(' || r == ')' || r == '*' || r == ':' || r == '^' {
				continue
			}
			b.WriteRune(r)
		}
		t := b.String()
		if t == "" || !hasWordChar(t) {
			continue
		}
		terms = append(terms, `"`+t+`"`)
	}
	return strings.Join(terms, " ")
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if r == '_' || ('0' <= r && r <= '9') ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r > 127 {
			return true
		}
	}
	return false
}
