package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/google/go-github/v66/github"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var logger = log.WithField("package", "github")

// GitHubClient defines the interface for GitHub API operations
type GitHubClient interface {
	// CreateDeployment registers a deployment of ref to environment
	CreateDeployment(ctx context.Context, repo, ref, environment, description string) (*models.GitHubDeployment, error)
	// CreateDeploymentStatus posts a status against a deployment
	CreateDeploymentStatus(ctx context.Context, repo string, deploymentID int64, update models.DeploymentStatusUpdate) error
}

// Client handles GitHub API interactions using go-github
type Client struct {
	client *github.Client
}

// Ensure Client implements GitHubClient
var _ GitHubClient = (*Client)(nil)

// NewClient creates a new GitHub client
func NewClient(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token not found. Set GH_TOKEN or GITHUB_TOKEN environment variable")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	return &Client{
		client: github.NewClient(tc),
	}, nil
}

// WithBaseURL points the client at another API root, e.g. GitHub Enterprise
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	c.client.BaseURL = u
	return c, nil
}

// CreateDeployment registers a deployment of ref to environment
func (c *Client) CreateDeployment(ctx context.Context, repo, ref, environment, description string) (*models.GitHubDeployment, error) {
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}

	request := &github.DeploymentRequest{
		Ref:              github.String(ref),
		Environment:      github.String(environment),
		Description:      github.String(description),
		AutoMerge:        github.Bool(false),
		RequiredContexts: &[]string{},
	}
	created, _, err := c.client.Repositories.CreateDeployment(ctx, owner, name, request)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	logger.WithField("deployment", created.GetID()).WithField("environment", environment).Debug("Created GitHub deployment")
	return &models.GitHubDeployment{
		ID:          created.GetID(),
		Ref:         created.GetRef(),
		Environment: created.GetEnvironment(),
		Description: created.GetDescription(),
		CreatedAt:   created.GetCreatedAt().Time,
	}, nil
}

// CreateDeploymentStatus posts a status against a deployment
func (c *Client) CreateDeploymentStatus(ctx context.Context, repo string, deploymentID int64, update models.DeploymentStatusUpdate) error {
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return fmt.Errorf("failed to parse repository: %w", err)
	}

	request := &github.DeploymentStatusRequest{
		State:       github.String(update.State),
		Description: github.String(truncate(update.Description, 140)),
	}
	if update.EnvironmentURL != "" {
		request.EnvironmentURL = github.String(update.EnvironmentURL)
	}
	if update.LogURL != "" {
		request.LogURL = github.String(update.LogURL)
	}

	if _, _, err := c.client.Repositories.CreateDeploymentStatus(ctx, owner, name, deploymentID, request); err != nil {
		return fmt.Errorf("failed to create deployment status: %w", err)
	}
	return nil
}

// truncate keeps descriptions inside the API limit
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
