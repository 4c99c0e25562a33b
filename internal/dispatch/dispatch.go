// Package dispatch submits build jobs to an execution backend. The dispatcher
// owns no lifecycle beyond submission: completion is observed only through
// the log relay, never by polling the backend.
package dispatch

import "context"

// Worker execution parameters injected for every build.
const (
	ParamRepoURL      = "GIT_REPOSITORY_URL"
	ParamProjectID    = "PROJECT_ID"
	ParamDeploymentID = "DEPLOYMENT_ID"
)

// Dispatcher submits a build job described by string parameters and returns
// an opaque job handle.
type Dispatcher interface {
	Submit(ctx context.Context, params map[string]string) (string, error)
}
