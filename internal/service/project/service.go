package project

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
	"github.com/atharvarekhawar/DropIt/internal/subdomain"
)

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
	retries  int
	generate func() string
}

// New returns a project service. retries bounds subdomain collision retries.
func New(projects repository.ProjectRepository, logger *slog.Logger, retries int) Service {
	if retries <= 0 {
		retries = 5
	}
	return Service{projects: projects, logger: logger, retries: retries, generate: subdomain.Generate}
}

// Create registers a new project under a freshly generated unique subdomain.
func (s Service) Create(ctx context.Context, name, repoURL string) (*domain.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: project name is required", domain.ErrValidation)
	}
	if err := validateRepoURL(repoURL); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		candidate := s.generate()
		_, err := s.projects.GetProjectBySubdomain(ctx, candidate)
		if err == nil {
			continue // taken, try another
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: check subdomain: %v", domain.ErrPersistence, err)
		}
		project := &domain.Project{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(name),
			RepoURL:   strings.TrimSpace(repoURL),
			Subdomain: candidate,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.projects.CreateProject(ctx, project); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// Lost a race on the unique index; retry with a new candidate.
				s.logger.Warn("subdomain taken, retrying", "subdomain", candidate, "error", err)
				continue
			}
			return nil, fmt.Errorf("%w: create project: %v", domain.ErrPersistence, err)
		}
		s.logger.Info("project created", "project_id", project.ID, "subdomain", project.Subdomain)
		return project, nil
	}
	return nil, fmt.Errorf("%w: could not allocate a unique subdomain", domain.ErrCreationFailed)
}

// Get retrieves a project by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return project, nil
}

func validateRepoURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: repository URL is required", domain.ErrValidation)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: repository URL must be a valid http(s) URL", domain.ErrValidation)
	}
	return nil
}
