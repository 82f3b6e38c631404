// Package ciloader batches CI lookups through a dataloader so callers that
// annotate many edges resolve the other-side CIs in one store round-trip.
package ciloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/opsbridge/cmdb/internal/domain"
	"github.com/opsbridge/cmdb/internal/repository"
)

// CILoader wraps a batched loader over the CI repository.
type CILoader struct {
	loader *dataloader.Loader
}

// New creates a CI loader with a short batching window.
func New(repo repository.CIRepository) *CILoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid UUID: %w", err)}}
			}
			ids[i] = id
		}

		cis, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.ConfigurationItem, len(cis))
		for _, ci := range cis {
			byID[ci.ID] = ci
		}

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if ci, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: ci}
			} else {
				results[i] = &dataloader.Result{Error: domain.NotFoundf("configuration item %s", id)}
			}
		}
		return results
	}

	return &CILoader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// Load resolves the given ids, deduplicated, as a map keyed by id.
func (l *CILoader) Load(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ConfigurationItem, error) {
	result := make(map[uuid.UUID]domain.ConfigurationItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make(dataloader.Keys, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, dataloader.StringKey(id.String()))
	}

	thunk := l.loader.LoadMany(ctx, keys)
	values, errs := thunk()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	for _, v := range values {
		ci, ok := v.(domain.ConfigurationItem)
		if !ok {
			continue
		}
		result[ci.ID] = ci
	}
	return result, nil
}
