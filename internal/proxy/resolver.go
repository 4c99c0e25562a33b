package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
)

// Resolver maps a subdomain label to the project whose artifacts it serves.
// Resolution fails with domain.ErrNotFound when the subdomain matches no
// project or the project has no READY deployment.
type Resolver interface {
	Resolve(ctx context.Context, subdomain string) (projectID string, err error)
}

// RegistryResolver resolves against the record store.
type RegistryResolver struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
}

// NewRegistryResolver builds a store-backed resolver.
func NewRegistryResolver(projects repository.ProjectRepository, deployments repository.DeploymentRepository) *RegistryResolver {
	return &RegistryResolver{projects: projects, deployments: deployments}
}

// Resolve looks up the project and requires a READY deployment to exist.
func (r *RegistryResolver) Resolve(ctx context.Context, subdomain string) (string, error) {
	project, err := r.projects.GetProjectBySubdomain(ctx, subdomain)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	if _, err := r.deployments.GetLatestReadyDeployment(ctx, project.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	return project.ID, nil
}

type cacheEntry struct {
	projectID string
	err       error
	expires   time.Time
}

// CachingResolver memoizes resolutions for a short TTL to keep hostname
// lookups off the per-request hot path. Both hits and misses are cached; a
// short TTL bounds how long a freshly READY deployment stays invisible.
type CachingResolver struct {
	inner   Resolver
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCachingResolver wraps inner with a TTL cache.
func NewCachingResolver(inner Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{inner: inner, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Resolve serves from cache when fresh, delegating otherwise.
func (c *CachingResolver) Resolve(ctx context.Context, subdomain string) (string, error) {
	now := time.Now()
	c.mu.Lock()
	entry, ok := c.entries[subdomain]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.projectID, entry.err
	}

	projectID, err := c.inner.Resolve(ctx, subdomain)
	// Transient store failures are not cached; not-found is.
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		c.mu.Lock()
		c.entries[subdomain] = cacheEntry{projectID: projectID, err: err, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return projectID, err
}
