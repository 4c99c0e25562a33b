package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

// CreateProject inserts a project record. A unique-constraint violation on
// the subdomain surfaces as ErrConflict so the caller can retry with a new
// candidate rather than treating the store as down.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, repo_url, subdomain, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.RepoURL, project.Subdomain, project.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// GetProjectByID fetches a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, repo_url, subdomain, created_at FROM projects WHERE id = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectBySubdomain fetches a project by its generated subdomain.
func (r *Repository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	const query = `SELECT id, name, repo_url, subdomain, created_at FROM projects WHERE subdomain = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, subdomain))
}

func (r *Repository) scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RepoURL, &p.Subdomain, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, deployment.ID, deployment.ProjectID, deployment.Status, deployment.CreatedAt, deployment.UpdatedAt)
	return err
}

// GetDeploymentByID retrieves a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, status, created_at, updated_at FROM deployments WHERE id = $1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// UpdateDeploymentStatus sets a deployment's status. Terminal statuses are
// sticky: once READY or FAILED, further updates are ignored.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, deploymentID, status string) error {
	const query = `UPDATE deployments SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ('READY', 'FAILED')`
	tag, err := r.pool.Exec(ctx, query, deploymentID, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; distinguish for callers.
		if _, err := r.GetDeploymentByID(ctx, deploymentID); err != nil {
			return err
		}
	}
	return nil
}

// ListDeploymentsByProject returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_id, status, created_at, updated_at FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// GetLatestReadyDeployment returns the most recent READY deployment.
func (r *Repository) GetLatestReadyDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, status, created_at, updated_at FROM deployments
		WHERE project_id = $1 AND status = 'READY' ORDER BY created_at DESC LIMIT 1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, projectID))
}

// ListStalledDeployments returns non-terminal deployments not updated since
// the given cutoff, for the build watchdog.
func (r *Repository) ListStalledDeployments(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error) {
	const query = `SELECT id, project_id, status, created_at, updated_at FROM deployments
		WHERE status NOT IN ('READY', 'FAILED') AND updated_at < $1`
	rows, err := r.pool.Query(ctx, query, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

func (r *Repository) scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendLog inserts a log event and backfills its assigned cursor.
func (r *Repository) AppendLog(ctx context.Context, event *domain.LogEvent) error {
	const query = `INSERT INTO log_events (deployment_id, message, created_at)
		VALUES ($1, $2, $3) RETURNING id`
	return r.pool.QueryRow(ctx, query, event.DeploymentID, event.Message, event.CreatedAt).Scan(&event.ID)
}

// ListLogsSince returns log events after the cursor in ascending order.
func (r *Repository) ListLogsSince(ctx context.Context, deploymentID string, sinceID int64, limit int) ([]domain.LogEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT id, deployment_id, message, created_at FROM log_events
		WHERE deployment_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, deploymentID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
