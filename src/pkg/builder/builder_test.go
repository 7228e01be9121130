package builder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   []string
	results map[string]CommandResult
}

func (f *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) CommandResult {
	cmd := name
	for _, a := range args {
		cmd += " " + a
	}
	f.calls = append(f.calls, cmd)
	if r, ok := f.results[cmd]; ok {
		r.Command = cmd
		return r
	}
	return CommandResult{Command: cmd, Stdout: "ok"}
}

// initRepo creates a git repository with one commit containing package.json
func initRepo(t *testing.T, version string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"printapp","version":"`+version+`"}`), 0644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("package.json")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestBuildStampsArtifact(t *testing.T) {
	dir, commit := initRepo(t, "2.4.1")
	runner := &fakeRunner{}
	b := NewBuilder(runner)
	b.now = func() time.Time { return time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC) }

	result, err := b.Build(context.Background(), Options{Group: "production", WorkDir: dir, Command: DEFAULT_PRODUCTION_BUILD})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"npm run build:prod"}, runner.calls)
	assert.Equal(t, "2.4.1", result.Version)
	assert.Equal(t, commit, result.Commit)
	assert.NotEmpty(t, result.Branch)
	assert.Equal(t, filepath.Join(dir, "build"), result.ArtifactPath)

	data, err := os.ReadFile(filepath.Join(dir, "build", BUILD_INFO_FILE))
	require.NoError(t, err)
	var info models.BuildInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "production", info.Environment)
	assert.Equal(t, commit, info.Commit)
	assert.Equal(t, "2.4.1", info.Version)
}

func TestBuildFailureIsNotRetried(t *testing.T) {
	dir, _ := initRepo(t, "1.0.0")
	runner := &fakeRunner{results: map[string]CommandResult{
		"npm run build:staging": {Stdout: "compiling", Stderr: "Module not found", ExitCode: 1, Err: assert.AnError},
	}}

	result, err := NewBuilder(runner).Build(context.Background(), Options{Group: "staging", WorkDir: dir})

	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Module not found", result.Stderr)
	assert.Equal(t, "compiling", result.Stdout)
	assert.Len(t, runner.calls, 1)
	_, statErr := os.Stat(filepath.Join(dir, "build", BUILD_INFO_FILE))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildOutsideGitRepository(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"version":"0.1.0"}`), 0644))

	result, err := NewBuilder(&fakeRunner{}).Build(context.Background(), Options{Group: "staging", WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Commit)
}

func TestBuildMissingVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x"}`), 0644))

	result, err := NewBuilder(&fakeRunner{}).Build(context.Background(), Options{WorkDir: dir})
	assert.Error(t, err)
	assert.False(t, result.Success)
}

func TestTestStopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		name      string
		results   map[string]CommandResult
		wantCalls []string
		wantErr   bool
	}{
		{
			name:      "all pass",
			wantCalls: []string{"npm test", "npm run test:integration"},
		},
		{
			name:      "unit tests fail",
			results:   map[string]CommandResult{"npm test": {ExitCode: 1, Err: assert.AnError, Stderr: "1 failing"}},
			wantCalls: []string{"npm test"},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{results: tt.results}
			res, err := NewBuilder(runner).Test(context.Background(), "", DefaultTestCommands)
			assert.Equal(t, tt.wantCalls, runner.calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "1 failing", res.Stderr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestReadSourceInfoDirty(t *testing.T) {
	dir, commit := initRepo(t, "1.0.0")

	info, err := ReadSourceInfo(dir)
	require.NoError(t, err)
	assert.False(t, info.Dirty)
	assert.Equal(t, commit, info.Commit)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"version":"1.0.1"}`), 0644))
	info, err = ReadSourceInfo(dir)
	require.NoError(t, err)
	assert.True(t, info.Dirty)
}

func TestExecRunner(t *testing.T) {
	r := (&ExecRunner{}).Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	assert.False(t, r.Success())
	assert.Equal(t, 3, r.ExitCode)
	assert.Equal(t, "out\n", r.Stdout)
	assert.Equal(t, "err\n", r.Stderr)
}
