package models

import "time"

const (
	DEPLOYMENT_STATE_IN_PROGRESS = "in_progress"
	DEPLOYMENT_STATE_SUCCESS     = "success"
	DEPLOYMENT_STATE_FAILURE     = "failure"
	DEPLOYMENT_STATE_ERROR       = "error"
)

// GitHubDeployment is a deployment registered on the source repository
type GitHubDeployment struct {
	ID          int64
	Ref         string
	Environment string
	Description string
	CreatedAt   time.Time
}

// DeploymentStatusUpdate is posted against a GitHubDeployment
type DeploymentStatusUpdate struct {
	State          string
	Description    string
	EnvironmentURL string
	LogURL         string
}
