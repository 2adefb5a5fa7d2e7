package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/visscan/api/pkg/domain/project"
	"github.com/visscan/api/pkg/domain/shared"
)

// ProjectRepository implements project.Repository using PostgreSQL.
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// CreateServiceTx atomically enforces the per-owner target quota and
// creates the group and service. The count runs inside the transaction
// and before any write, so a quota failure leaves nothing behind.
func (r *ProjectRepository) CreateServiceTx(ctx context.Context, ownerID shared.ID, group *project.Group, svc *project.Service, limit int) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(s.id)
			FROM scan_services s
			JOIN scan_groups g ON g.id = s.group_id
			WHERE g.owner_id = $1 AND g.is_active
		`, ownerID.String()).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count services: %w", err)
		}

		if count >= limit {
			return shared.NewDomainError("QUOTA_EXCEEDED",
				fmt.Sprintf("service limit of %d reached", limit),
				shared.ErrQuotaExceeded)
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM scan_groups WHERE id = $1)`,
			group.ID.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check group: %w", err)
		}

		if !exists {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO scan_groups (
					id, owner_id, name, repo_url, is_private,
					git_user, git_token, is_active, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
				group.ID.String(),
				group.OwnerID.String(),
				group.Name,
				group.RepoURL,
				group.IsPrivate,
				nullString(group.GitUser),
				nullString(group.GitToken),
				group.IsActive,
				group.CreatedAt,
				group.UpdatedAt,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return shared.NewDomainError("ALREADY_EXISTS", "group already exists", shared.ErrAlreadyExists)
				}
				return fmt.Errorf("failed to create group: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_services (
				id, group_id, name, context_path, image_name,
				docker_user, docker_token, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			svc.ID.String(),
			svc.GroupID.String(),
			svc.Name,
			svc.ContextPath,
			svc.ImageName,
			nullString(svc.DockerUser),
			nullString(svc.DockerToken),
			svc.CreatedAt,
			svc.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return shared.NewDomainError("ALREADY_EXISTS", "service already exists", shared.ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create service: %w", err)
		}
		return nil
	})
}

// DeleteServiceTx removes a service, its scan history, and its owning
// group when the group becomes empty, in one transaction.
func (r *ProjectRepository) DeleteServiceTx(ctx context.Context, serviceID shared.ID) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		var groupID string
		err := tx.QueryRowContext(ctx,
			`SELECT group_id FROM scan_services WHERE id = $1`,
			serviceID.String()).Scan(&groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return shared.NewDomainError("NOT_FOUND", "service not found", shared.ErrNotFound)
			}
			return fmt.Errorf("failed to get service: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scan_records WHERE service_id = $1`, serviceID.String()); err != nil {
			return fmt.Errorf("failed to delete scan history: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scan_services WHERE id = $1`, serviceID.String()); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}

		// Remove the group when this was its last service.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM scan_groups
			WHERE id = $1
			AND NOT EXISTS (SELECT 1 FROM scan_services WHERE group_id = $1)
		`, groupID); err != nil {
			return fmt.Errorf("failed to delete empty group: %w", err)
		}
		return nil
	})
}

const serviceWithGroupColumns = `
	s.id, s.group_id, s.name, s.context_path, s.image_name,
	s.docker_user, s.docker_token, s.created_at, s.updated_at,
	g.id, g.owner_id, g.name, g.repo_url, g.is_private,
	g.git_user, g.git_token, g.is_active, g.created_at, g.updated_at
`

// GetService retrieves a service with its owning group.
func (r *ProjectRepository) GetService(ctx context.Context, id shared.ID) (*project.ServiceWithGroup, error) {
	query := `
		SELECT ` + serviceWithGroupColumns + `
		FROM scan_services s
		JOIN scan_groups g ON g.id = s.group_id
		WHERE s.id = $1
	`

	swg, err := scanServiceWithGroup(r.db.QueryRowContext(ctx, query, id.String()).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("NOT_FOUND", "service not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return swg, nil
}

// GetGroup retrieves a group by id.
func (r *ProjectRepository) GetGroup(ctx context.Context, id shared.ID) (*project.Group, error) {
	query := `
		SELECT id, owner_id, name, repo_url, is_private,
			git_user, git_token, is_active, created_at, updated_at
		FROM scan_groups
		WHERE id = $1
	`

	grp, err := scanGroup(r.db.QueryRowContext(ctx, query, id.String()).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("NOT_FOUND", "group not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return grp, nil
}

// FindDuplicateService looks for a target the owner already registered
// for the same repo, context path and image. Repo urls are compared in
// normalized form.
func (r *ProjectRepository) FindDuplicateService(ctx context.Context, ownerID shared.ID, repoURL, contextPath, imageName string) (*project.ServiceWithGroup, error) {
	query := `
		SELECT ` + serviceWithGroupColumns + `
		FROM scan_services s
		JOIN scan_groups g ON g.id = s.group_id
		WHERE g.owner_id = $1
		AND lower(regexp_replace(regexp_replace(g.repo_url, '^https?://', ''), '(\.git)?/?$', '')) = $2
		AND s.context_path = $3
		AND s.image_name = $4
		LIMIT 1
	`

	swg, err := scanServiceWithGroup(r.db.QueryRowContext(ctx, query,
		ownerID.String(), project.NormalizeRepoURL(repoURL), contextPath, imageName).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find duplicate service: %w", err)
	}
	return swg, nil
}

// CountActiveServices counts scan targets transitively owned by the
// user through active groups.
func (r *ProjectRepository) CountActiveServices(ctx context.Context, ownerID shared.ID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(s.id)
		FROM scan_services s
		JOIN scan_groups g ON g.id = s.group_id
		WHERE g.owner_id = $1 AND g.is_active
	`, ownerID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count services: %w", err)
	}
	return count, nil
}

func scanGroup(scanFn func(dest ...any) error) (*project.Group, error) {
	var (
		grp      project.Group
		id       string
		ownerID  string
		gitUser  sql.NullString
		gitToken sql.NullString
	)

	err := scanFn(
		&id, &ownerID, &grp.Name, &grp.RepoURL, &grp.IsPrivate,
		&gitUser, &gitToken, &grp.IsActive, &grp.CreatedAt, &grp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	grp.ID, err = shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid group id: %w", err)
	}
	grp.OwnerID, err = shared.IDFromString(ownerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}
	grp.GitUser = nullStringValue(gitUser)
	grp.GitToken = nullStringValue(gitToken)
	return &grp, nil
}

func scanServiceWithGroup(scanFn func(dest ...any) error) (*project.ServiceWithGroup, error) {
	var (
		svc         project.Service
		grp         project.Group
		svcID       string
		groupID     string
		dockerUser  sql.NullString
		dockerToken sql.NullString
		grpID       string
		ownerID     string
		gitUser     sql.NullString
		gitToken    sql.NullString
	)

	err := scanFn(
		&svcID, &groupID, &svc.Name, &svc.ContextPath, &svc.ImageName,
		&dockerUser, &dockerToken, &svc.CreatedAt, &svc.UpdatedAt,
		&grpID, &ownerID, &grp.Name, &grp.RepoURL, &grp.IsPrivate,
		&gitUser, &gitToken, &grp.IsActive, &grp.CreatedAt, &grp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	svc.ID, err = shared.IDFromString(svcID)
	if err != nil {
		return nil, fmt.Errorf("invalid service id: %w", err)
	}
	svc.GroupID, err = shared.IDFromString(groupID)
	if err != nil {
		return nil, fmt.Errorf("invalid group id: %w", err)
	}
	svc.DockerUser = nullStringValue(dockerUser)
	svc.DockerToken = nullStringValue(dockerToken)

	grp.ID, err = shared.IDFromString(grpID)
	if err != nil {
		return nil, fmt.Errorf("invalid group id: %w", err)
	}
	grp.OwnerID, err = shared.IDFromString(ownerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}
	grp.GitUser = nullStringValue(gitUser)
	grp.GitToken = nullStringValue(gitToken)

	return &project.ServiceWithGroup{Service: &svc, Group: &grp}, nil
}
