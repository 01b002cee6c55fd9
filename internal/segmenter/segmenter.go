// Package segmenter owns segment boundaries: one segment per calendar day of
// a stream, in the owner's local timezone.
package segmenter

import (
	"context"
	"fmt"
	"time"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// DayLayout is the segment day label format.
const DayLayout = "2006-01-02"

type Segmenter struct {
	store store.Store
}

func New(s store.Store) *Segmenter { return &Segmenter{store: s} }

// DayOf returns the day label for ts in the given IANA timezone. An unknown
// timezone falls back to UTC rather than failing the append path.
func DayOf(ts time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(DayLayout)
}

// Today returns the current day label in the given timezone.
func Today(tz string) string { return DayOf(time.Now(), tz) }

// ResolveOrCreate returns the segment covering the message's local day,
// creating it lazily on the first message of a new day. Safe under concurrent
// calls for the same (owner, stream, day): creation is insert-if-absent under
// a unique constraint.
func (s *Segmenter) ResolveOrCreate(ctx context.Context, msg *model.Message) (*model.Segment, error) {
	owner, err := s.store.Owners().Get(ctx, msg.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	day := DayOf(msg.CreationTime, owner.TimeZone)
	seg, err := s.store.Segments().ResolveOrCreate(ctx, &model.Segment{
		OwnerID:  msg.OwnerID,
		StreamID: msg.StreamID,
		Day:      day,
		FirstSeq: msg.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve segment for day %s: %w", day, err)
	}
	return seg, nil
}

// Close finalizes a segment's boundary. Only the nightly job calls this, and
// only for segments whose day is strictly before the owner's today. No-op if
// the segment is already closed.
func (s *Segmenter) Close(ctx context.Context, seg *model.Segment, lastSeq int64) error {
	if lastSeq < seg.FirstSeq {
		return model.ErrInvalidRange
	}
	return s.store.Segments().Close(ctx, seg.OwnerID, seg.SegmentID, lastSeq)
}
