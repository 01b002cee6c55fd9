package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/chronologue/chronologue/internal/model"
)

// --- Chunks ---

type chunks struct{ db *sql.DB }

func (c *chunks) Upsert(ctx context.Context, m *model.Chunk) (*model.Chunk, bool, error) {
	if m.StartSeq > m.EndSeq {
		return nil, false, model.ErrInvalidRange
	}
	id := m.ChunkID
	if id == "" {
		id = uuid.New().String()
	}
	// Same boundaries + same hash is a no-op so recompute never re-embeds
	// unchanged content. The conflict row keeps its original chunk_id.
	var outID string
	var created, updated time.Time
	row := c.db.QueryRowContext(ctx, `
        INSERT INTO chunks (owner_id, chunk_id, stream_id, segment_id, start_seq, end_seq, text, hash, token_count)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (owner_id, stream_id, start_seq, end_seq) DO UPDATE
            SET text=EXCLUDED.text, hash=EXCLUDED.hash, token_count=EXCLUDED.token_count, update_time=now()
            WHERE chunks.hash <> EXCLUDED.hash
        RETURNING chunk_id, creation_time, update_time
    `, m.OwnerID, id, m.StreamID, m.SegmentID, m.StartSeq, m.EndSeq, m.Text, m.Hash, m.TokenCount)
	if err := row.Scan(&outID, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict with identical hash: fetch the existing row.
			existing, gerr := c.getByRange(ctx, m.OwnerID, m.StreamID, m.StartSeq, m.EndSeq)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	out := *m
	out.ChunkID = outID
	out.CreationTime = created
	out.UpdateTime = updated
	return &out, true, nil
}

func (c *chunks) getByRange(ctx context.Context, ownerID, streamID string, startSeq, endSeq int64) (*model.Chunk, error) {
	row := c.db.QueryRowContext(ctx, chunkSelect+`
        WHERE owner_id=$1 AND stream_id=$2 AND start_seq=$3 AND end_seq=$4
    `, ownerID, streamID, startSeq, endSeq)
	return scanChunkRow(row)
}

func (c *chunks) Get(ctx context.Context, ownerID, chunkID string) (*model.Chunk, error) {
	row := c.db.QueryRowContext(ctx, chunkSelect+` WHERE owner_id=$1 AND chunk_id=$2`, ownerID, chunkID)
	return scanChunkRow(row)
}

func (c *chunks) GetByIDs(ctx context.Context, ownerID string, chunkIDs []string) (map[string]*model.Chunk, error) {
	out := make(map[string]*model.Chunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.QueryContext(ctx, chunkSelect+` WHERE owner_id=$1 AND chunk_id = ANY($2)`, ownerID, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		ch, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		out[ch.ChunkID] = ch
	}
	return out, rows.Err()
}

func (c *chunks) ListBySegment(ctx context.Context, ownerID, segmentID string) ([]*model.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, chunkSelect+`
        WHERE owner_id=$1 AND segment_id=$2 ORDER BY start_seq ASC
    `, ownerID, segmentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Chunk
	for rows.Next() {
		ch, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *chunks) Delete(ctx context.Context, ownerID, chunkID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE owner_id=$1 AND chunk_id=$2`, ownerID, chunkID)
	return err
}

const chunkSelect = `
    SELECT owner_id, chunk_id, stream_id, segment_id, start_seq, end_seq, text, hash, token_count, creation_time, update_time
    FROM chunks`

func scanChunkRow(row *sql.Row) (*model.Chunk, error) {
	var m model.Chunk
	if err := row.Scan(&m.OwnerID, &m.ChunkID, &m.StreamID, &m.SegmentID, &m.StartSeq, &m.EndSeq,
		&m.Text, &m.Hash, &m.TokenCount, &m.CreationTime, &m.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanChunkRows(rows *sql.Rows) (*model.Chunk, error) {
	var m model.Chunk
	if err := rows.Scan(&m.OwnerID, &m.ChunkID, &m.StreamID, &m.SegmentID, &m.StartSeq, &m.EndSeq,
		&m.Text, &m.Hash, &m.TokenCount, &m.CreationTime, &m.UpdateTime); err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Embedding records ---

type embeddings struct{ db *sql.DB }

func (e *embeddings) Put(ctx context.Context, r *model.EmbeddingRecord) error {
	var vec interface{}
	if r.Vector != nil {
		b, err := json.Marshal(r.Vector)
		if err != nil {
			return err
		}
		vec = b
	}
	_, err := e.db.ExecContext(ctx, `
        INSERT INTO embedding_records (owner_id, target_kind, target_id, provider, model, dimension, vector, status, error_msg)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (owner_id, target_kind, target_id) DO UPDATE
            SET provider=EXCLUDED.provider, model=EXCLUDED.model, dimension=EXCLUDED.dimension,
                vector=EXCLUDED.vector, status=EXCLUDED.status, error_msg=EXCLUDED.error_msg, update_time=now()
    `, r.OwnerID, r.TargetKind, r.TargetID, r.Provider, r.Model, r.Dimension, vec, r.Status, r.ErrorMsg)
	return err
}

func (e *embeddings) Get(ctx context.Context, ownerID, targetKind, targetID string) (*model.EmbeddingRecord, error) {
	var m model.EmbeddingRecord
	var vec []byte
	row := e.db.QueryRowContext(ctx, `
        SELECT owner_id, target_kind, target_id, provider, model, dimension, vector, status, error_msg, update_time
        FROM embedding_records WHERE owner_id=$1 AND target_kind=$2 AND target_id=$3
    `, ownerID, targetKind, targetID)
	if err := row.Scan(&m.OwnerID, &m.TargetKind, &m.TargetID, &m.Provider, &m.Model, &m.Dimension,
		&vec, &m.Status, &m.ErrorMsg, &m.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if len(vec) > 0 {
		if err := json.Unmarshal(vec, &m.Vector); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (e *embeddings) MarkReady(ctx context.Context, ownerID, targetKind, targetID string, vector []float32, dim int) error {
	b, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	res, err := e.db.ExecContext(ctx, `
        UPDATE embedding_records
        SET vector=$1, dimension=$2, status='ready', error_msg='', update_time=now()
        WHERE owner_id=$3 AND target_kind=$4 AND target_id=$5
    `, b, dim, ownerID, targetKind, targetID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (e *embeddings) MarkError(ctx context.Context, ownerID, targetKind, targetID, errMsg string) error {
	res, err := e.db.ExecContext(ctx, `
        UPDATE embedding_records
        SET status='error', error_msg=$1, update_time=now()
        WHERE owner_id=$2 AND target_kind=$3 AND target_id=$4
    `, errMsg, ownerID, targetKind, targetID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (e *embeddings) ResetAllPending(ctx context.Context, ownerID, provider, mdl string, dim int) ([]*model.EmbeddingRecord, error) {
	if _, err := e.db.ExecContext(ctx, `
        UPDATE embedding_records
        SET status='pending', error_msg='', vector=NULL, provider=$1, model=$2, dimension=$3, update_time=now()
        WHERE owner_id=$4
    `, provider, mdl, dim, ownerID); err != nil {
		return nil, err
	}
	// Summaries first so segment-level recall recovers before chunk detail.
	rows, err := e.db.QueryContext(ctx, `
        SELECT target_kind, target_id FROM embedding_records
        WHERE owner_id=$1
        ORDER BY CASE WHEN target_kind='summary' THEN 0 ELSE 1 END, target_id
    `, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.EmbeddingRecord
	for rows.Next() {
		m := model.EmbeddingRecord{OwnerID: ownerID, Provider: provider, Model: mdl, Dimension: dim, Status: model.EmbeddingPending}
		if err := rows.Scan(&m.TargetKind, &m.TargetID); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (e *embeddings) Delete(ctx context.Context, ownerID, targetKind, targetID string) error {
	_, err := e.db.ExecContext(ctx, `
        DELETE FROM embedding_records WHERE owner_id=$1 AND target_kind=$2 AND target_id=$3
    `, ownerID, targetKind, targetID)
	return err
}

// --- Jobs ---

const (
	leaseJobsSQL = `
UPDATE jobs SET update_time=now(), next_attempt_at = now() + interval '5 minutes'
WHERE id IN (
    SELECT id FROM jobs
    WHERE status='pending' AND next_attempt_at <= now()
    ORDER BY id ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, kind, key, payload, attempt_count`

	markJobDoneSQL = `UPDATE jobs SET status='done', update_time=now() WHERE id=$1`

	markJobFailedSQL = `
UPDATE jobs
SET attempt_count = attempt_count + 1,
    next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300)),
    update_time = now()
WHERE id=$1`
)

type jobs struct{ db *sql.DB }

func (j *jobs) Enqueue(ctx context.Context, kind, key string, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `INSERT INTO jobs (kind, key, payload) VALUES ($1,$2,$3)`, kind, key, b)
	return err
}

// LeaseBatch claims up to n due jobs with a five-minute visibility timeout; a
// crashed worker's jobs become due again without operator action.
func (j *jobs) LeaseBatch(ctx context.Context, n int) ([]*model.Job, error) {
	rows, err := j.db.QueryContext(ctx, leaseJobsSQL, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Job
	for rows.Next() {
		var m model.Job
		var raw []byte
		if err := rows.Scan(&m.ID, &m.Kind, &m.Key, &raw, &m.Attempts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m.Payload); err != nil {
			// Poison pill: back it off instead of hot-looping.
			_ = j.MarkFailed(ctx, m.ID)
			continue
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (j *jobs) MarkDone(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, markJobDoneSQL, id)
	return err
}

func (j *jobs) MarkFailed(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, markJobFailedSQL, id)
	return err
}

// --- Locks ---

type locks struct{ db *sql.DB }

// TryAcquire takes a session-scoped advisory lock keyed by an fnv-64a hash of
// the string key. The connection is pinned until release so the lock survives
// pool churn.
func (l *locks) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	h := lockKeyHash(key)
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, h).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, h)
		_ = conn.Close()
	}
	return release, true, nil
}

func lockKeyHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
