package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

// uniqueViolation is the Postgres SQLSTATE raised by the partial unique
// index guarding single-multiplicity relationships.
const uniqueViolation = "23505"

type relationshipRepository struct {
	pool *pgxpool.Pool
}

// NewRelationshipRepository creates a repository for relationship types and
// edges.
func NewRelationshipRepository(pool *pgxpool.Pool) RelationshipRepository {
	return &relationshipRepository{pool: pool}
}

const relColumns = `id, source_ci_id, target_ci_id, relationship_type_id,
	is_active, criticality, attributes, created_by, created_at, updated_at`

func (r *relationshipRepository) GetRelationshipType(ctx context.Context, id uuid.UUID) (domain.CIRelationshipType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, source_ci_type_constraint, target_ci_type_constraint,
		       allow_multiple, created_at
		FROM ci_relationship_types WHERE id = $1`, id)

	rt, err := scanRelationshipType(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CIRelationshipType{}, domain.NotFoundf("relationship type %s", id)
		}
		return domain.CIRelationshipType{}, fmt.Errorf("get relationship type: %w", err)
	}
	return rt, nil
}

func (r *relationshipRepository) ListRelationshipTypes(ctx context.Context) ([]domain.CIRelationshipType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, source_ci_type_constraint, target_ci_type_constraint,
		       allow_multiple, created_at
		FROM ci_relationship_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list relationship types: %w", err)
	}
	defer rows.Close()

	types := []domain.CIRelationshipType{}
	for rows.Next() {
		rt, err := scanRelationshipType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship type: %w", err)
		}
		types = append(types, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationship types: %w", err)
	}
	return types, nil
}

func (r *relationshipRepository) Create(ctx context.Context, rel domain.CIRelationship, enforceSingle bool) (domain.CIRelationship, error) {
	attrs, err := rel.RelAttributesAsJSONB()
	if err != nil {
		return domain.CIRelationship{}, fmt.Errorf("marshal relationship attributes: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO ci_relationships
			(id, source_ci_id, target_ci_id, relationship_type_id, is_active,
			 criticality, attributes, created_by, enforce_single)
		VALUES ($1, $2, $3, $4, true, $5, $6, $7, $8)
		RETURNING `+relColumns,
		uuid.New(), rel.SourceCIID, rel.TargetCIID, rel.RelationshipTypeID,
		string(rel.Criticality), attrs, rel.CreatedBy, enforceSingle,
	)

	created, err := scanRelationship(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// The store-level index is the real multiplicity guarantee; two
			// racing creates can both pass the advisory duplicate check.
			return domain.CIRelationship{}, fmt.Errorf("active relationship already exists for source and type: %w", domain.ErrDuplicateRelationship)
		}
		return domain.CIRelationship{}, fmt.Errorf("create relationship: %w", err)
	}
	return created, nil
}

func (r *relationshipRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.CIRelationship, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+relColumns+` FROM ci_relationships WHERE id = $1`, id)
	rel, err := scanRelationship(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CIRelationship{}, domain.NotFoundf("relationship %s", id)
		}
		return domain.CIRelationship{}, fmt.Errorf("get relationship: %w", err)
	}
	return rel, nil
}

func (r *relationshipRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ci_relationships
		SET is_active = false, enforce_single = false, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("soft delete relationship: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *relationshipRepository) ExistsActive(ctx context.Context, sourceCIID, relationshipTypeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ci_relationships
			WHERE source_ci_id = $1 AND relationship_type_id = $2 AND is_active
		)`, sourceCIID, relationshipTypeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active relationship: %w", err)
	}
	return exists, nil
}

func (r *relationshipRepository) ListActiveFrom(ctx context.Context, sourceCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error) {
	return r.listActive(ctx, "source_ci_id", sourceCIID, relationshipTypeID)
}

func (r *relationshipRepository) ListActiveTo(ctx context.Context, targetCIID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error) {
	return r.listActive(ctx, "target_ci_id", targetCIID, relationshipTypeID)
}

func (r *relationshipRepository) listActive(ctx context.Context, column string, ciID uuid.UUID, relationshipTypeID *uuid.UUID) ([]domain.CIRelationship, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + relColumns + ` FROM ci_relationships WHERE ` + column + ` = $1 AND is_active`)
	args := []any{ciID}
	if relationshipTypeID != nil {
		sb.WriteString(` AND relationship_type_id = $2`)
		args = append(args, *relationshipTypeID)
	}
	sb.WriteString(` ORDER BY created_at`)

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list active relationships: %w", err)
	}
	defer rows.Close()

	rels := []domain.CIRelationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

func scanRelationshipType(row ciScanner) (domain.CIRelationshipType, error) {
	var (
		rt     domain.CIRelationshipType
		desc   pgtype.Text
		source pgtype.UUID
		target pgtype.UUID
	)
	err := row.Scan(&rt.ID, &rt.Name, &desc, &source, &target, &rt.AllowMultiple, &rt.CreatedAt)
	if err != nil {
		return domain.CIRelationshipType{}, err
	}
	rt.Description = desc.String
	if source.Valid {
		id := uuid.UUID(source.Bytes)
		rt.SourceCITypeConstraint = &id
	}
	if target.Valid {
		id := uuid.UUID(target.Bytes)
		rt.TargetCITypeConstraint = &id
	}
	return rt, nil
}

func scanRelationship(row ciScanner) (domain.CIRelationship, error) {
	var (
		rel         domain.CIRelationship
		criticality string
		attrs       json.RawMessage
	)
	err := row.Scan(&rel.ID, &rel.SourceCIID, &rel.TargetCIID, &rel.RelationshipTypeID,
		&rel.IsActive, &criticality, &attrs, &rel.CreatedBy, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		return domain.CIRelationship{}, err
	}
	rel.Criticality = domain.Criticality(criticality)

	attributes, err := domain.AttributesFromJSONB(attrs)
	if err != nil {
		return domain.CIRelationship{}, fmt.Errorf("unmarshal relationship attributes: %w", err)
	}
	rel.Attributes = attributes
	return rel, nil
}
