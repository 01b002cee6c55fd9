// Package services orchestrates the engine's use cases behind the API layer.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chronologue/chronologue/internal/assembler"
	"github.com/chronologue/chronologue/internal/coordinator"
	"github.com/chronologue/chronologue/internal/embeddings"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/ranker"
	"github.com/chronologue/chronologue/internal/store"
)

var validRoles = map[string]bool{
	model.RoleUser:      true,
	model.RoleAssistant: true,
	model.RoleSystem:    true,
	model.RoleTool:      true,
}

// RecallService is the engine's front door: message ingestion, hybrid
// search, window drill-down, and context assembly.
type RecallService struct {
	store store.Store
	coord *coordinator.Coordinator
	rank  *ranker.Ranker
	asm   *assembler.Assembler
}

func NewRecallService(s store.Store, coord *coordinator.Coordinator, rank *ranker.Ranker, asm *assembler.Assembler) *RecallService {
	return &RecallService{store: s, coord: coord, rank: rank, asm: asm}
}

// AppendMessage persists the message and schedules indexing and
// summarization follow-ups. Returns the stored message with its assigned
// sequence number and the day segment it landed in.
func (s *RecallService) AppendMessage(ctx context.Context, m *model.Message) (*model.Message, *model.Segment, error) {
	if m.OwnerID == "" || m.StreamID == "" {
		return nil, nil, fmt.Errorf("ownerId and streamId are required")
	}
	if !validRoles[m.Role] {
		return nil, nil, fmt.Errorf("unknown role %q", m.Role)
	}
	if m.Content == "" {
		return nil, nil, fmt.Errorf("content is required")
	}
	if m.CreationTime.IsZero() {
		m.CreationTime = time.Now().UTC()
	}
	stored, err := s.store.Messages().Append(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	seg, err := s.coord.OnAppend(ctx, stored)
	if err != nil {
		return nil, nil, err
	}
	return stored, seg, nil
}

// Search runs hybrid retrieval. It returns an empty page rather than an
// error when nothing matches or no provider is configured.
func (s *RecallService) Search(ctx context.Context, req ranker.Request) (*ranker.Page, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("ownerId is required")
	}
	return s.rank.Rank(ctx, req)
}

// BuildContext assembles the agent-turn bundle for a stream.
func (s *RecallService) BuildContext(ctx context.Context, ownerID, streamID string) (*model.ContextBundle, error) {
	if ownerID == "" || streamID == "" {
		return nil, fmt.Errorf("ownerId and streamId are required")
	}
	return s.asm.BuildContext(ctx, ownerID, streamID)
}

// Window resolves a search hit to its message neighborhood. Chunk targets
// anchor at the chunk's range; summary targets at the segment start.
func (s *RecallService) Window(ctx context.Context, ownerID, targetKind, targetID string, before, after, limit int) (*model.Window, error) {
	req := assembler.WindowRequest{OwnerID: ownerID, Before: before, After: after, Limit: limit}
	switch targetKind {
	case model.KindChunk:
		ch, err := s.store.Chunks().Get(ctx, ownerID, targetID)
		if err != nil {
			return nil, err
		}
		req.StreamID = ch.StreamID
		req.Ref = ch.StartSeq
		span := int(ch.EndSeq - ch.StartSeq)
		if req.After == 0 {
			req.After = span
		} else {
			req.After += span
		}
	case model.KindSummary:
		seg, err := s.store.Segments().Get(ctx, ownerID, targetID)
		if err != nil {
			return nil, err
		}
		req.StreamID = seg.StreamID
		req.Ref = seg.FirstSeq
	default:
		return nil, fmt.Errorf("unknown target kind %q", targetKind)
	}
	return s.asm.Window(ctx, req)
}

// RebuildEmbeddings schedules a full per-owner re-embed under the new
// provider settings. The work itself runs on the job queue, serialized by
// the per-owner rebuild lock.
func (s *RecallService) RebuildEmbeddings(ctx context.Context, ownerID, provider, mdl string, dim int) error {
	if ownerID == "" || provider == "" || mdl == "" || dim <= 0 {
		return fmt.Errorf("ownerId, provider, model, and dimension are required")
	}
	if _, err := s.store.Owners().Get(ctx, ownerID); err != nil {
		return err
	}
	return s.store.Jobs().Enqueue(ctx, embeddings.JobKindRebuild, ownerID, map[string]interface{}{
		"ownerId":   ownerID,
		"provider":  provider,
		"model":     mdl,
		"dimension": dim,
	})
}
