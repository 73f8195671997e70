package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

func TestRunPreflightOffModeSkipsEverything(t *testing.T) {
	fsys := vfs.NewMemFS()
	issues, err := RunPreflight(fsys, "/project", "off")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestRunPreflightMissingPackageJSON(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.MkdirAllSync("/project"))

	issues, err := RunPreflight(fsys, "/project", "warn")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "error", issues[0].Severity)
}

func TestRunPreflightFlagsNativeOnlyDependency(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package.json", []byte(`{
		"name": "demo",
		"dependencies": { "sharp": "^0.33.0" }
	}`)))

	issues, err := RunPreflight(fsys, "/project", "warn")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "warning", issues[0].Severity)
	assert.Contains(t, issues[0].Message, "sharp")
}

func TestRunPreflightStrictModeFailsOnError(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.MkdirAllSync("/project"))

	_, err := RunPreflight(fsys, "/project", "strict")
	require.Error(t, err)
	var fe *FailureEnvelope
	require.ErrorAs(t, err, &fe)
}

func TestRunPreflightWorkspaceRootMissing(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package.json", []byte(`{
		"name": "demo",
		"dependencies": { "@demo/shared": "workspace:*" }
	}`)))

	issues, err := RunPreflight(fsys, "/project", "warn")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "error", issues[0].Severity)
}
