package repository

import (
	"context"
	"time"

	"github.com/atharvarekhawar/DropIt/internal/domain"
)

// ProjectRepository persists project records.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, deploymentID, status string) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	GetLatestReadyDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	ListStalledDeployments(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error)
}

// LogRepository handles durable log persistence and cursor range reads.
type LogRepository interface {
	AppendLog(ctx context.Context, event *domain.LogEvent) error
	ListLogsSince(ctx context.Context, deploymentID string, sinceID int64, limit int) ([]domain.LogEvent, error)
}
