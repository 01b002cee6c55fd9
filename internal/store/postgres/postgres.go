package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Owners() store.Owners         { return &owners{db: s.db} }
func (s *pgStore) Messages() store.Messages     { return &messages{db: s.db} }
func (s *pgStore) Segments() store.Segments     { return &segments{db: s.db} }
func (s *pgStore) Chunks() store.Chunks         { return &chunks{db: s.db} }
func (s *pgStore) Embeddings() store.Embeddings { return &embeddings{db: s.db} }
func (s *pgStore) Jobs() store.Jobs             { return &jobs{db: s.db} }
func (s *pgStore) Locks() store.Locks           { return &locks{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Owners ---

type owners struct{ db *sql.DB }

func (o *owners) Put(ctx context.Context, m *model.Owner) (*model.Owner, error) {
	var created time.Time
	row := o.db.QueryRowContext(ctx, `
        INSERT INTO owners (owner_id, time_zone, embed_provider, embed_model, embed_dimension)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (owner_id) DO UPDATE
            SET time_zone=EXCLUDED.time_zone,
                embed_provider=EXCLUDED.embed_provider,
                embed_model=EXCLUDED.embed_model,
                embed_dimension=EXCLUDED.embed_dimension
        RETURNING creation_time
    `, m.OwnerID, m.TimeZone, m.EmbedProvider, m.EmbedModel, m.EmbedDimension)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *m
	out.CreationTime = created
	return &out, nil
}

func (o *owners) Get(ctx context.Context, ownerID string) (*model.Owner, error) {
	var out model.Owner
	row := o.db.QueryRowContext(ctx, `
        SELECT owner_id, time_zone, embed_provider, embed_model, embed_dimension, creation_time
        FROM owners WHERE owner_id=$1
    `, ownerID)
	if err := row.Scan(&out.OwnerID, &out.TimeZone, &out.EmbedProvider, &out.EmbedModel, &out.EmbedDimension, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (o *owners) List(ctx context.Context) ([]*model.Owner, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT owner_id, time_zone, embed_provider, embed_model, embed_dimension, creation_time
        FROM owners ORDER BY owner_id
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Owner
	for rows.Next() {
		var m model.Owner
		if err := rows.Scan(&m.OwnerID, &m.TimeZone, &m.EmbedProvider, &m.EmbedModel, &m.EmbedDimension, &m.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Messages ---

type messages struct{ db *sql.DB }

func (e *messages) Append(ctx context.Context, m *model.Message) (*model.Message, error) {
	// Seq assignment and insert in one statement; the primary key guards the
	// rare race (the owning stream is the sole writer by contract).
	var seq int64
	var created time.Time
	row := e.db.QueryRowContext(ctx, `
        INSERT INTO messages (owner_id, stream_id, seq, role, content)
        SELECT $1, $2, COALESCE(MAX(seq),0)+1, $3, $4
        FROM messages WHERE owner_id=$1 AND stream_id=$2
        RETURNING seq, creation_time
    `, m.OwnerID, m.StreamID, m.Role, m.Content)
	if err := row.Scan(&seq, &created); err != nil {
		return nil, err
	}
	out := *m
	out.Seq = seq
	out.CreationTime = created
	return &out, nil
}

func (e *messages) Get(ctx context.Context, ownerID, streamID string, seq int64) (*model.Message, error) {
	var out model.Message
	out.OwnerID = ownerID
	out.StreamID = streamID
	row := e.db.QueryRowContext(ctx, `
        SELECT seq, role, content, creation_time
        FROM messages WHERE owner_id=$1 AND stream_id=$2 AND seq=$3
    `, ownerID, streamID, seq)
	if err := row.Scan(&out.Seq, &out.Role, &out.Content, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (e *messages) ListRange(ctx context.Context, ownerID, streamID string, fromSeq, toSeq int64) ([]*model.Message, error) {
	if fromSeq > toSeq {
		return nil, model.ErrInvalidRange
	}
	rows, err := e.db.QueryContext(ctx, `
        SELECT seq, role, content, creation_time
        FROM messages WHERE owner_id=$1 AND stream_id=$2 AND seq BETWEEN $3 AND $4
        ORDER BY seq ASC
    `, ownerID, streamID, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows, ownerID, streamID)
}

func (e *messages) List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error) {
	query := `SELECT seq, role, content, creation_time FROM messages WHERE owner_id=$1 AND stream_id=$2`
	args := []interface{}{req.OwnerID, req.StreamID}
	order := " ORDER BY seq ASC"
	if req.Before != nil {
		query += " AND seq < $3"
		args = append(args, *req.Before)
		order = " ORDER BY seq DESC"
	} else if req.AfterSeq != nil {
		query += " AND seq > $3"
		args = append(args, *req.AfterSeq)
	}
	query += order
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows, req.OwnerID, req.StreamID)
}

func (e *messages) LastSeq(ctx context.Context, ownerID, streamID string) (int64, error) {
	var seq sql.NullInt64
	row := e.db.QueryRowContext(ctx, `
        SELECT MAX(seq) FROM messages WHERE owner_id=$1 AND stream_id=$2
    `, ownerID, streamID)
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func scanMessages(rows *sql.Rows, ownerID, streamID string) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		var m model.Message
		m.OwnerID = ownerID
		m.StreamID = streamID
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &m.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Segments ---

type segments struct{ db *sql.DB }

func (s *segments) ResolveOrCreate(ctx context.Context, seg *model.Segment) (*model.Segment, error) {
	id := seg.SegmentID
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO segments (owner_id, segment_id, stream_id, day, first_seq, status)
        VALUES ($1,$2,$3,$4,$5,'open')
        ON CONFLICT (owner_id, stream_id, day) DO NOTHING
    `, seg.OwnerID, id, seg.StreamID, seg.Day, seg.FirstSeq); err != nil {
		return nil, err
	}
	return s.GetByDay(ctx, seg.OwnerID, seg.StreamID, seg.Day)
}

func (s *segments) Get(ctx context.Context, ownerID, segmentID string) (*model.Segment, error) {
	row := s.db.QueryRowContext(ctx, segmentSelect+` WHERE owner_id=$1 AND segment_id=$2`, ownerID, segmentID)
	return scanSegment(row)
}

func (s *segments) GetByDay(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error) {
	row := s.db.QueryRowContext(ctx, segmentSelect+` WHERE owner_id=$1 AND stream_id=$2 AND day=$3`, ownerID, streamID, day)
	return scanSegment(row)
}

func (s *segments) NextAfter(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error) {
	row := s.db.QueryRowContext(ctx, segmentSelect+`
        WHERE owner_id=$1 AND stream_id=$2 AND day > $3 ORDER BY day ASC LIMIT 1
    `, ownerID, streamID, day)
	return scanSegment(row)
}

func (s *segments) GetByIDs(ctx context.Context, ownerID string, segmentIDs []string) (map[string]*model.Segment, error) {
	out := make(map[string]*model.Segment, len(segmentIDs))
	if len(segmentIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, segmentSelect+` WHERE owner_id=$1 AND segment_id = ANY($2)`, ownerID, segmentIDs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		seg, err := scanSegmentRows(rows)
		if err != nil {
			return nil, err
		}
		out[seg.SegmentID] = seg
	}
	return out, rows.Err()
}

func (s *segments) ListPendingClose(ctx context.Context, ownerID, beforeDay string) ([]*model.Segment, error) {
	rows, err := s.db.QueryContext(ctx, segmentSelect+`
        WHERE owner_id=$1 AND day < $2 AND status <> 'closed' ORDER BY day ASC
    `, ownerID, beforeDay)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Segment
	for rows.Next() {
		seg, err := scanSegmentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *segments) SetMarker(ctx context.Context, ownerID, segmentID string, marker int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE segments SET marker=$1, update_time=now() WHERE owner_id=$2 AND segment_id=$3
    `, marker, ownerID, segmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *segments) ApplySummary(ctx context.Context, ownerID, segmentID, summary string, coveredUntil, marker int64) error {
	// GREATEST keeps covered-until monotonic even for a stale input; the
	// marker equality check rejects results computed against superseded state.
	res, err := s.db.ExecContext(ctx, `
        UPDATE segments
        SET summary=$1, covered_until=GREATEST(covered_until,$2), update_time=now()
        WHERE owner_id=$3 AND segment_id=$4 AND marker=$5
    `, summary, coveredUntil, ownerID, segmentID, marker)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrStaleUpdate
	}
	return nil
}

func (s *segments) Close(ctx context.Context, ownerID, segmentID string, lastSeq int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE segments SET last_seq=$1, status='closed', update_time=now()
        WHERE owner_id=$2 AND segment_id=$3 AND status <> 'closed'
    `, lastSeq, ownerID, segmentID)
	return err
}

const segmentSelect = `
    SELECT owner_id, segment_id, stream_id, day, first_seq, last_seq, summary,
           covered_until, status, marker, update_time
    FROM segments`

func scanSegment(row *sql.Row) (*model.Segment, error) {
	var m model.Segment
	var last sql.NullInt64
	if err := row.Scan(&m.OwnerID, &m.SegmentID, &m.StreamID, &m.Day, &m.FirstSeq, &last,
		&m.Summary, &m.CoveredUntil, &m.Status, &m.Marker, &m.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if last.Valid {
		m.LastSeq = &last.Int64
	}
	return &m, nil
}

func scanSegmentRows(rows *sql.Rows) (*model.Segment, error) {
	var m model.Segment
	var last sql.NullInt64
	if err := rows.Scan(&m.OwnerID, &m.SegmentID, &m.StreamID, &m.Day, &m.FirstSeq, &last,
		&m.Summary, &m.CoveredUntil, &m.Status, &m.Marker, &m.UpdateTime); err != nil {
		return nil, err
	}
	if last.Valid {
		m.LastSeq = &last.Int64
	}
	return &m, nil
}
