package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// EmbedDefaults seed a new owner's embedding settings when the request does
// not choose them explicitly.
type EmbedDefaults struct {
	Provider  string
	Model     string
	Dimension int
}

// OwnerService manages owner records, the tenancy root for every other
// operation.
type OwnerService struct {
	store    store.Store
	defaults EmbedDefaults
}

func NewOwnerService(s store.Store, defaults EmbedDefaults) *OwnerService {
	return &OwnerService{store: s, defaults: defaults}
}

func (s *OwnerService) CreateOwner(ctx context.Context, o *model.Owner) (*model.Owner, error) {
	if o.OwnerID == "" {
		return nil, fmt.Errorf("ownerId is required")
	}
	if o.TimeZone == "" {
		o.TimeZone = "UTC"
	}
	if _, err := time.LoadLocation(o.TimeZone); err != nil {
		return nil, fmt.Errorf("unknown timezone %q", o.TimeZone)
	}
	if o.EmbedProvider == "" {
		o.EmbedProvider = s.defaults.Provider
		o.EmbedModel = s.defaults.Model
		o.EmbedDimension = s.defaults.Dimension
	}
	if o.CreationTime.IsZero() {
		o.CreationTime = time.Now().UTC()
	}
	return s.store.Owners().Put(ctx, o)
}

func (s *OwnerService) GetOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	return s.store.Owners().Get(ctx, ownerID)
}

func (s *OwnerService) ListOwners(ctx context.Context) ([]*model.Owner, error) {
	return s.store.Owners().List(ctx)
}
