package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
	"github.com/atharvarekhawar/DropIt/internal/service/logs"
	"github.com/atharvarekhawar/DropIt/internal/ws"
)

type stubProjectRepository struct {
	projects map[string]*domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, p *domain.Project) error {
	s.projects[p.ID] = p
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	if p, ok := s.projects[id]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) GetProjectBySubdomain(ctx context.Context, sub string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

// memoryDeploymentRepository mirrors the store's sticky-terminal rule: status
// updates against READY or FAILED deployments are silent no-ops.
type memoryDeploymentRepository struct {
	mu          sync.Mutex
	deployments map[string]*domain.Deployment
	stalled     []domain.Deployment
	updateErr   error
}

func newMemoryDeploymentRepository() *memoryDeploymentRepository {
	return &memoryDeploymentRepository{deployments: map[string]*domain.Deployment{}}
}

func (m *memoryDeploymentRepository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *d
	m.deployments[d.ID] = &copied
	return nil
}

func (m *memoryDeploymentRepository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deployments[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryDeploymentRepository) UpdateDeploymentStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	d, ok := m.deployments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if domain.TerminalStatus(d.Status) {
		return nil
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryDeploymentRepository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for _, d := range m.deployments {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memoryDeploymentRepository) GetLatestReadyDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	return nil, repository.ErrNotFound
}

func (m *memoryDeploymentRepository) ListStalledDeployments(ctx context.Context, before time.Time) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled, nil
}

type memoryLogRepository struct {
	mu     sync.Mutex
	events []domain.LogEvent
	nextID int64
}

func (m *memoryLogRepository) AppendLog(ctx context.Context, event *domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, *event)
	return nil
}

func (m *memoryLogRepository) ListLogsSince(ctx context.Context, deploymentID string, sinceID int64, limit int) ([]domain.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEvent
	for _, e := range m.events {
		if e.DeploymentID == deploymentID && e.ID > sinceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubDispatcher struct {
	mu      sync.Mutex
	params  []map[string]string
	err     error
	handles int
}

func (s *stubDispatcher) Submit(ctx context.Context, params map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.params = append(s.params, params)
	s.handles++
	return "job-1", nil
}

type fixture struct {
	svc         Service
	projects    *stubProjectRepository
	deployments *memoryDeploymentRepository
	logRepo     *memoryLogRepository
	dispatcher  *stubDispatcher
	hub         *ws.Hub
}

func newFixture(opts Options) *fixture {
	projects := &stubProjectRepository{projects: map[string]*domain.Project{
		"proj-1": {ID: "proj-1", Name: "app", RepoURL: "https://github.com/acme/app", Subdomain: "brave-blue-lion"},
	}}
	deployments := newMemoryDeploymentRepository()
	logRepo := &memoryLogRepository{}
	dispatcher := &stubDispatcher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(time.Minute)
	logSvc := logs.New(logRepo, deployments, hub, log, logs.Options{})
	return &fixture{
		svc:         New(projects, deployments, dispatcher, logSvc, log, opts),
		projects:    projects,
		deployments: deployments,
		logRepo:     logRepo,
		dispatcher:  dispatcher,
		hub:         hub,
	}
}

func TestTriggerQueuesAndDispatches(t *testing.T) {
	f := newFixture(Options{})

	deployment, err := f.svc.Trigger(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	if deployment.Status != domain.StatusQueued {
		t.Fatalf("expected QUEUED, got %s", deployment.Status)
	}
	if len(f.dispatcher.params) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(f.dispatcher.params))
	}
	params := f.dispatcher.params[0]
	if params["GIT_REPOSITORY_URL"] != "https://github.com/acme/app" {
		t.Fatalf("dispatch missing repository URL: %v", params)
	}
	if params["PROJECT_ID"] != "proj-1" || params["DEPLOYMENT_ID"] != deployment.ID {
		t.Fatalf("dispatch missing identifiers: %v", params)
	}
}

func TestTriggerUnknownProject(t *testing.T) {
	f := newFixture(Options{})
	if _, err := f.svc.Trigger(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerDispatchFailureMarksFailed(t *testing.T) {
	f := newFixture(Options{})
	f.dispatcher.err = errors.New("cluster unreachable")

	deployment, err := f.svc.Trigger(context.Background(), "proj-1")
	if !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if deployment == nil {
		t.Fatalf("failed dispatch should still return the audit record")
	}
	stored, err := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
	if err != nil {
		t.Fatalf("deployment record missing: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
}

func TestTriggerDispatchFailureSurvivesStatusWriteFailure(t *testing.T) {
	f := newFixture(Options{})
	f.dispatcher.err = errors.New("cluster unreachable")
	f.deployments.updateErr = errors.New("store down")

	deployment, err := f.svc.Trigger(context.Background(), "proj-1")
	if !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if deployment == nil || deployment.Status != domain.StatusFailed {
		t.Fatalf("caller must still see the FAILED outcome, got %+v", deployment)
	}
}

func TestObserveLogTransitions(t *testing.T) {
	f := newFixture(Options{})
	deployment, err := f.svc.Trigger(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	steps := []struct {
		line string
		want string
	}{
		{"Cloning repository...", domain.StatusInProgress},
		{"Installing dependencies", domain.StatusInProgress},
		{"Build complete", domain.StatusReady},
	}
	for _, step := range steps {
		if err := f.svc.ObserveLog(context.Background(), deployment.ID, step.line); err != nil {
			t.Fatalf("ObserveLog(%q): %v", step.line, err)
		}
		stored, _ := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
		if stored.Status != step.want {
			t.Fatalf("after %q expected %s, got %s", step.line, step.want, stored.Status)
		}
	}
}

func TestObserveLogErrorPrefixFails(t *testing.T) {
	f := newFixture(Options{})
	deployment, _ := f.svc.Trigger(context.Background(), "proj-1")

	if err := f.svc.ObserveLog(context.Background(), deployment.ID, "error: npm install exited 1"); err != nil {
		t.Fatalf("ObserveLog: %v", err)
	}
	stored, _ := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
}

func TestTerminalStatusIsSticky(t *testing.T) {
	f := newFixture(Options{})
	deployment, _ := f.svc.Trigger(context.Background(), "proj-1")

	if err := f.svc.ObserveLog(context.Background(), deployment.ID, "Build complete"); err != nil {
		t.Fatalf("ObserveLog: %v", err)
	}
	// A straggler line delivered after completion must not resurrect the build.
	if err := f.svc.ObserveLog(context.Background(), deployment.ID, "flushing caches"); err != nil {
		t.Fatalf("ObserveLog straggler: %v", err)
	}
	stored, _ := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
	if stored.Status != domain.StatusReady {
		t.Fatalf("terminal status overwritten: %s", stored.Status)
	}
}

func TestObserveLogSentinelRequiresExactLine(t *testing.T) {
	f := newFixture(Options{})
	deployment, _ := f.svc.Trigger(context.Background(), "proj-1")

	if err := f.svc.ObserveLog(context.Background(), deployment.ID, "Build completely stalled"); err != nil {
		t.Fatalf("ObserveLog: %v", err)
	}
	stored, _ := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
	if stored.Status != domain.StatusInProgress {
		t.Fatalf("near-sentinel line should not complete the build, got %s", stored.Status)
	}
}

func TestObserveOutcome(t *testing.T) {
	f := newFixture(Options{})

	first, _ := f.svc.Trigger(context.Background(), "proj-1")
	if err := f.svc.ObserveOutcome(context.Background(), first.ID, "succeeded"); err != nil {
		t.Fatalf("ObserveOutcome: %v", err)
	}
	stored, _ := f.deployments.GetDeploymentByID(context.Background(), first.ID)
	if stored.Status != domain.StatusReady {
		t.Fatalf("expected READY, got %s", stored.Status)
	}

	second, _ := f.svc.Trigger(context.Background(), "proj-1")
	if err := f.svc.ObserveOutcome(context.Background(), second.ID, "exploded"); err != nil {
		t.Fatalf("unknown outcome should be ignored, got %v", err)
	}
	stored, _ = f.deployments.GetDeploymentByID(context.Background(), second.ID)
	if stored.Status != domain.StatusQueued {
		t.Fatalf("unknown outcome changed status to %s", stored.Status)
	}
}

func TestWatchdogFailsStalledDeployment(t *testing.T) {
	f := newFixture(Options{BuildTimeout: time.Minute})
	deployment, _ := f.svc.Trigger(context.Background(), "proj-1")
	f.deployments.stalled = []domain.Deployment{{ID: deployment.ID, ProjectID: "proj-1", Status: domain.StatusInProgress}}

	f.svc.sweepStalled(context.Background())

	stored, _ := f.deployments.GetDeploymentByID(context.Background(), deployment.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("stalled deployment not failed, got %s", stored.Status)
	}
	events, err := f.logRepo.ListLogsSince(context.Background(), deployment.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListLogsSince: %v", err)
	}
	if len(events) != 1 || !strings.HasPrefix(events[0].Message, "error:") {
		t.Fatalf("expected a timeout log line, got %+v", events)
	}
}
