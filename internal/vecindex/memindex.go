package vecindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memIndex is a brute-force cosine-distance index for tests and the local
// build target.
type memIndex struct {
	mu      sync.RWMutex
	entries map[string]map[string]*memEntry // owner -> kind/target -> entry
}

type memEntry struct {
	kind     string
	targetID string
	streamID string
	day      string
	vec      []float32
}

// NewMemIndex returns an empty in-memory Index.
func NewMemIndex() Index {
	return &memIndex{entries: map[string]map[string]*memEntry{}}
}

func entryKey(kind, targetID string) string { return kind + "/" + targetID }

func (m *memIndex) Upsert(ctx context.Context, ownerID, kind, targetID string, vec []float32, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := m.entries[ownerID]
	if byKey == nil {
		byKey = map[string]*memEntry{}
		m.entries[ownerID] = byKey
	}
	e := &memEntry{kind: kind, targetID: targetID, vec: append([]float32(nil), vec...)}
	if s, ok := payload["streamId"].(string); ok {
		e.streamID = s
	}
	if d, ok := payload["day"].(string); ok {
		e.day = d
	}
	byKey[entryKey(kind, targetID)] = e
	return nil
}

func (m *memIndex) Delete(ctx context.Context, ownerID, kind, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[ownerID], entryKey(kind, targetID))
	return nil
}

func (m *memIndex) Purge(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ownerID)
	return nil
}

func (m *memIndex) Search(ctx context.Context, ownerID, streamID string, vec []float32, topK int) ([]Candidate, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Candidate
	for _, e := range m.entries[ownerID] {
		if streamID != "" && e.streamID != streamID {
			continue
		}
		out = append(out, Candidate{
			Kind:     e.kind,
			TargetID: e.targetID,
			StreamID: e.streamID,
			Day:      e.day,
			Distance: cosineDistance(vec, e.vec),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].TargetID < out[j].TargetID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// cosineDistance is 1 - cosine similarity, in [0, 2]. Mismatched lengths are
// compared over the shorter prefix; zero-padded tails contribute nothing.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
