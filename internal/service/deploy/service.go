package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/atharvarekhawar/DropIt/internal/dispatch"
	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
	"github.com/atharvarekhawar/DropIt/internal/service/logs"
)

// Options configure terminal detection and the stall watchdog.
type Options struct {
	// DoneSentinel is the exact log line that marks a successful build.
	DoneSentinel string
	// ErrorPrefix marks failure lines.
	ErrorPrefix string
	// BuildTimeout fails any deployment with no activity for this long.
	BuildTimeout time.Duration
	// WatchdogTick is the stall-scan interval.
	WatchdogTick time.Duration
}

// Service owns the deployment state machine. Build completion is inferred
// from log content: the execution backend's own completion signal is not
// assumed reliable, so the relay feeds every line through ObserveLog.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	dispatcher  dispatch.Dispatcher
	logSvc      logs.Service
	logger      *slog.Logger
	opts        Options
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, dispatcher dispatch.Dispatcher, logSvc logs.Service, logger *slog.Logger, opts Options) Service {
	if opts.DoneSentinel == "" {
		opts.DoneSentinel = "Build complete"
	}
	if opts.ErrorPrefix == "" {
		opts.ErrorPrefix = "error:"
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 15 * time.Minute
	}
	if opts.WatchdogTick <= 0 {
		opts.WatchdogTick = 30 * time.Second
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		dispatcher:  dispatcher,
		logSvc:      logSvc,
		logger:      logger,
		opts:        opts,
	}
}

// Trigger creates a QUEUED deployment and submits the build job. A dispatch
// failure marks the deployment FAILED synchronously; the record is kept as
// an audit trail.
func (s Service) Trigger(ctx context.Context, projectID string) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, fmt.Errorf("%w: create deployment: %v", domain.ErrPersistence, err)
	}

	handle, err := s.dispatcher.Submit(ctx, map[string]string{
		dispatch.ParamRepoURL:      project.RepoURL,
		dispatch.ParamProjectID:    project.ID,
		dispatch.ParamDeploymentID: deployment.ID,
	})
	if err != nil {
		s.logger.Error("build dispatch failed", "deployment_id", deployment.ID, "error", err)
		// The record stays QUEUED if this update fails; the watchdog sweep
		// reconciles it, but the gap is worth a loud log line.
		if statusErr := s.setStatus(ctx, deployment.ID, domain.StatusFailed); statusErr != nil {
			s.logger.Error("failed to record dispatch failure", "deployment_id", deployment.ID, "error", statusErr)
		}
		deployment.Status = domain.StatusFailed
		if errors.Is(err, domain.ErrDispatch) {
			return deployment, err
		}
		return deployment, fmt.Errorf("%w: %v", domain.ErrDispatch, err)
	}
	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "project_id", project.ID, "job", handle)
	return deployment, nil
}

// Get returns one deployment.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, deploymentID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return deployment, nil
}

// ListByProject returns recent deployments for a project.
func (s Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	deployments, err := s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return deployments, nil
}

// ObserveLog advances the state machine from log content. Any line counts as
// build activity; the sentinel line is terminal success, the error prefix
// terminal failure. Terminal states are sticky at the store layer.
func (s Service) ObserveLog(ctx context.Context, deploymentID, message string) error {
	trimmed := strings.TrimSpace(message)
	switch {
	case trimmed == s.opts.DoneSentinel:
		return s.finish(ctx, deploymentID, domain.StatusReady)
	case strings.HasPrefix(trimmed, s.opts.ErrorPrefix):
		return s.finish(ctx, deploymentID, domain.StatusFailed)
	default:
		return s.setStatus(ctx, deploymentID, domain.StatusInProgress)
	}
}

// ObserveOutcome applies a structured worker outcome event. Unknown outcomes
// are ignored so a newer worker cannot wedge the consumer.
func (s Service) ObserveOutcome(ctx context.Context, deploymentID, outcome string) error {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "succeeded", "success":
		return s.finish(ctx, deploymentID, domain.StatusReady)
	case "failed", "failure":
		return s.finish(ctx, deploymentID, domain.StatusFailed)
	default:
		s.logger.Warn("ignoring unknown outcome", "deployment_id", deploymentID, "outcome", outcome)
		return nil
	}
}

func (s Service) finish(ctx context.Context, deploymentID, status string) error {
	if err := s.setStatus(ctx, deploymentID, status); err != nil {
		return err
	}
	s.logSvc.Hub().MarkTerminal(deploymentID)
	s.logger.Info("deployment finished", "deployment_id", deploymentID, "status", status)
	return nil
}

func (s Service) setStatus(ctx context.Context, deploymentID, status string) error {
	if err := s.deployments.UpdateDeploymentStatus(ctx, deploymentID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: deployment %s", domain.ErrNotFound, deploymentID)
		}
		return fmt.Errorf("%w: update status: %v", domain.ErrPersistence, err)
	}
	return nil
}

// RunWatchdog fails deployments with no log activity within BuildTimeout.
// Absence of the completion sentinel after the timeout is treated as failure.
func (s Service) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(s.opts.WatchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStalled(ctx)
		}
	}
}

func (s Service) sweepStalled(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.opts.BuildTimeout)
	stalled, err := s.deployments.ListStalledDeployments(ctx, cutoff)
	if err != nil {
		s.logger.Warn("stall scan failed", "error", err)
		return
	}
	for _, d := range stalled {
		line := fmt.Sprintf("%s build timed out after %s", s.opts.ErrorPrefix, s.opts.BuildTimeout)
		if _, err := s.logSvc.Append(ctx, d.ID, line); err != nil {
			s.logger.Warn("failed to append timeout log", "deployment_id", d.ID, "error", err)
		}
		if err := s.finish(ctx, d.ID, domain.StatusFailed); err != nil {
			s.logger.Warn("failed to fail stalled deployment", "deployment_id", d.ID, "error", err)
			continue
		}
		s.logger.Info("deployment timed out", "deployment_id", d.ID, "project_id", d.ProjectID)
	}
}
