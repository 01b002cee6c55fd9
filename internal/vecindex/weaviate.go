package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// className is the single Weaviate class holding chunk and summary vectors;
// the kind property distinguishes them. One tenant per owner.
const className = "RecallUnit"

type weaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL
// (host:port, no scheme).
func NewWeaviateIndex(baseURL string) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &weaviateIndex{client: cl}, nil
}

// BootstrapWeaviate ensures the RecallUnit class exists with multi-tenancy
// enabled. Vectors are supplied by the embedding pipeline, never vectorized
// server-side.
func BootstrapWeaviate(ctx context.Context, baseURL string) error {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	desired := &models.Class{
		Class:      className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "kind", DataType: []string{"text"}},
			{Name: "targetId", DataType: []string{"text"}},
			{Name: "streamId", DataType: []string{"text"}},
			{Name: "day", DataType: []string{"text"}},
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
	}

	ex, err := cl.Schema().ClassGetter().WithClassName(className).Do(cctx)
	if err == nil && ex != nil {
		if ex.MultiTenancyConfig != nil && ex.MultiTenancyConfig.Enabled {
			return nil
		}
		if err := cl.Schema().ClassDeleter().WithClassName(className).Do(cctx); err != nil {
			return fmt.Errorf("delete class %s: %w", className, err)
		}
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(cctx); err != nil {
		return fmt.Errorf("create class %s: %w", className, err)
	}
	return nil
}

// objectID derives a stable Weaviate object id from (kind, target) so upserts
// replace rather than duplicate.
func objectID(kind, targetID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"/"+targetID)).String())
}

func (w *weaviateIndex) ensureTenant(ctx context.Context, tenant string) {
	if tenant == "" {
		return
	}
	// Best effort; already-exists errors are expected.
	t := models.Tenant{Name: tenant}
	_ = w.client.Schema().TenantsCreator().WithClassName(className).WithTenants(t).Do(ctx)
}

func (w *weaviateIndex) Upsert(ctx context.Context, ownerID, kind, targetID string, vec []float32, payload map[string]interface{}) error {
	if w == nil || w.client == nil {
		return fmt.Errorf("weaviate client not initialised")
	}
	w.ensureTenant(ctx, ownerID)

	props := map[string]interface{}{
		"kind":     kind,
		"targetId": targetID,
	}
	for k, v := range payload {
		props[k] = v
	}
	id := objectID(kind, targetID)
	// Delete-then-create keeps the call idempotent for at-least-once workers.
	_ = w.client.Data().Deleter().WithClassName(className).WithTenant(ownerID).WithID(string(id)).Do(ctx)
	_, err := w.client.Data().Creator().
		WithClassName(className).
		WithTenant(ownerID).
		WithID(string(id)).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	return err
}

func (w *weaviateIndex) Delete(ctx context.Context, ownerID, kind, targetID string) error {
	if w == nil || w.client == nil || ownerID == "" || targetID == "" {
		return nil
	}
	// Best-effort; ignore not-found so index cleanup never fails a delete.
	_ = w.client.Data().Deleter().
		WithClassName(className).
		WithTenant(ownerID).
		WithID(string(objectID(kind, targetID))).
		Do(ctx)
	return nil
}

func (w *weaviateIndex) Purge(ctx context.Context, ownerID string) error {
	if w == nil || w.client == nil || ownerID == "" {
		return nil
	}
	return w.client.Schema().TenantsDeleter().WithClassName(className).WithTenants(ownerID).Do(ctx)
}

func (w *weaviateIndex) Search(ctx context.Context, ownerID, streamID string, vec []float32, topK int) ([]Candidate, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	near := w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	req := w.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(near).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "kind"},
			gql.Field{Name: "targetId"},
			gql.Field{Name: "streamId"},
			gql.Field{Name: "day"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "distance"}}},
		)
	if ownerID != "" {
		req = req.WithTenant(ownerID)
	}
	if streamID != "" {
		where := filters.Where().WithPath([]string{"streamId"}).WithOperator(filters.Equal).WithValueText(streamID)
		req = req.WithWhere(where)
	}

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	val := getData[className]
	if val == nil {
		return []Candidate{}, nil
	}
	raw, ok := val.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]Candidate, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := Candidate{
			Kind:     safeString(m["kind"]),
			TargetID: safeString(m["targetId"]),
			StreamID: safeString(m["streamId"]),
			Day:      safeString(m["day"]),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["distance"].(type) {
			case float64:
				c.Distance = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					c.Distance = f
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// HealthPing verifies the Weaviate schema endpoint responds.
func (w *weaviateIndex) HealthPing(ctx context.Context) error {
	_, err := w.client.Schema().Getter().Do(ctx)
	return err
}

func safeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
