package github

import (
	"context"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
)

// Tracker mirrors one pipeline run as a GitHub deployment.
// Every call is best-effort: failures are logged and never returned.
// A nil *Tracker does nothing.
type Tracker struct {
	client     GitHubClient
	repo       string
	deployment *models.GitHubDeployment
}

// NewTracker creates a new tracker for repo (owner/name)
func NewTracker(client GitHubClient, repo string) *Tracker {
	return &Tracker{client: client, repo: repo}
}

// Start creates the deployment and marks it in progress
func (t *Tracker) Start(ctx context.Context, ref, environment, description string) {
	if t == nil || ref == "" {
		return
	}
	d, err := t.client.CreateDeployment(ctx, t.repo, ref, environment, description)
	if err != nil {
		logger.WithError(err).Warn("Failed to create GitHub deployment")
		return
	}
	t.deployment = d
	t.status(ctx, models.DeploymentStatusUpdate{State: models.DEPLOYMENT_STATE_IN_PROGRESS, Description: description})
}

// Finish posts the terminal status
func (t *Tracker) Finish(ctx context.Context, success bool, description, environmentURL string) {
	state := models.DEPLOYMENT_STATE_SUCCESS
	if !success {
		state = models.DEPLOYMENT_STATE_FAILURE
	}
	t.status(ctx, models.DeploymentStatusUpdate{State: state, Description: description, EnvironmentURL: environmentURL})
}

func (t *Tracker) status(ctx context.Context, update models.DeploymentStatusUpdate) {
	if t == nil || t.deployment == nil {
		return
	}
	if err := t.client.CreateDeploymentStatus(ctx, t.repo, t.deployment.ID, update); err != nil {
		logger.WithError(err).WithField("state", update.State).Warn("Failed to post GitHub deployment status")
	}
}
