package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

type businessServiceRepository struct {
	pool *pgxpool.Pool
}

// NewBusinessServiceRepository creates a repository resolving the
// business-service-to-CI join.
func NewBusinessServiceRepository(pool *pgxpool.Pool) BusinessServiceRepository {
	return &businessServiceRepository{pool: pool}
}

func (r *businessServiceRepository) ListServicesForCIs(ctx context.Context, ciIDs []uuid.UUID) (map[uuid.UUID]ServiceLink, error) {
	if len(ciIDs) == 0 {
		return map[uuid.UUID]ServiceLink{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, s.criticality, s.owner_group, s.created_at, j.ci_id
		FROM business_services s
		JOIN business_service_cis j ON j.service_id = s.id
		WHERE j.ci_id = ANY($1)
		ORDER BY s.name, j.ci_id`, ciIDs)
	if err != nil {
		return nil, fmt.Errorf("list services for cis: %w", err)
	}
	defer rows.Close()

	links := map[uuid.UUID]ServiceLink{}
	for rows.Next() {
		var (
			svc         domain.BusinessService
			criticality string
			ciID        uuid.UUID
		)
		if err := rows.Scan(&svc.ID, &svc.Name, &criticality, &svc.OwnerGroup, &svc.CreatedAt, &ciID); err != nil {
			return nil, fmt.Errorf("scan service link: %w", err)
		}
		svc.Criticality = domain.Criticality(criticality)

		link, ok := links[svc.ID]
		if !ok {
			link = ServiceLink{Service: svc}
		}
		link.LinkedCIIDs = append(link.LinkedCIIDs, ciID)
		links[svc.ID] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service links: %w", err)
	}
	return links, nil
}
