package github

import (
	"fmt"
	"strings"
)

// ParseOwnerRepo parses a repository string into owner and repository
// Example: "owner/repository" -> "owner", "repository"
// Example: "owner/repository/subpath" -> "owner", "repository"
func ParseOwnerRepo(repo string) (owner, repository string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format: %s", repo)
	}
	return parts[0], parts[1], nil
}

func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
