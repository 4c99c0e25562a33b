package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atharvarekhawar/DropIt/internal/domain"
)

// BuilderDispatcher submits builds to a builder service over HTTP, for
// deployments that run workers outside ECS.
type BuilderDispatcher struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewBuilderDispatcher constructs an HTTP dispatcher against baseURL.
func NewBuilderDispatcher(baseURL string, logger *slog.Logger) *BuilderDispatcher {
	return &BuilderDispatcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		baseURL: baseURL,
	}
}

// Submit POSTs the build parameters and returns the builder's job id.
func (d *BuilderDispatcher) Submit(ctx context.Context, params map[string]string) (string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: encode params: %v", domain.ErrDispatch, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/build", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDispatch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("builder request failed", "deployment_id", params[ParamDeploymentID], "error", err)
		return "", fmt.Errorf("%w: builder unreachable: %v", domain.ErrDispatch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		d.logger.Error("builder rejected build", "deployment_id", params[ParamDeploymentID], "status", resp.Status)
		return "", fmt.Errorf("%w: builder returned %s", domain.ErrDispatch, resp.Status)
	}
	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.JobID == "" {
		// Older builders ack without a body; the deployment id stands in.
		return params[ParamDeploymentID], nil
	}
	return body.JobID, nil
}
