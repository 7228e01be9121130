package runner

import "github.com/gh-nvat/bluegreen/src/pkg/models"

type Options struct {
	// Common options
	Group            string
	WorkDir          string
	Force            bool
	SkipVerification bool
	NonInteractive   bool // prompts are answered without an operator
	Owner            string

	// Deploy options
	SkipTests       bool
	AutoSwitch      bool
	PolicyOverrides []string

	// Rollback options
	TargetColor models.Color // empty picks the target from history
}
