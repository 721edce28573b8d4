package ingestion

import (
	"context"
	"fmt"

	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/repository"
)

// Resolver finds a previously materialized feed earthquake. Matching is exact on
// every key field, so a re-emitted value with different float rounding, or a
// timestamp that fell back to the current time, is treated as a new event.
type Resolver struct {
	repo repository.DisasterRepository
}

func NewResolver(repo repository.DisasterRepository) *Resolver {
	return &Resolver{repo: repo}
}

// FindExisting returns nil, nil when d has not been stored yet.
func (r *Resolver) FindExisting(ctx context.Context, d *models.Disaster) (*models.Disaster, error) {
	existing, err := r.repo.FindByDedupKey(ctx, d.DedupKey())
	if err != nil {
		return nil, fmt.Errorf("error looking up existing earthquake: %w", err)
	}
	return existing, nil
}
