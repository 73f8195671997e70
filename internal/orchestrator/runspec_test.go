package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

func TestRunSpecEncodeDecodeRoundTrips(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package-lock.json", []byte(`{"lockfileVersion":3}`)))

	rc := RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "main"}
	spec, err := BuildRunSpec(fsys, rc, "/project", KindNodeScript, config.Defaults(), 1700000000)
	require.NoError(t, err)
	require.Contains(t, spec.LockHashes, "package-lock.json")

	encoded, err := spec.Encode()
	require.NoError(t, err)

	decoded, err := DecodeRunSpec(encoded)
	require.NoError(t, err)
	assert.Equal(t, spec, decoded)
}

func TestDecodeRunSpecRejectsWrongVersion(t *testing.T) {
	_, err := DecodeRunSpec("eyJ2ZXJzaW9uIjo5OX0=") // {"version":99}
	assert.Error(t, err)
}

func TestReplayReportsReproducibleOnMatchingHashes(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package-lock.json", []byte(`{"lockfileVersion":3}`)))

	rc := RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "main"}
	spec, err := BuildRunSpec(fsys, rc, "/project", KindNodeScript, config.Defaults(), 1700000000)
	require.NoError(t, err)

	result, err := Replay(context.Background(), spec, config.Defaults(), func(ctx context.Context, opts config.Options, rc RepoCoordinates) (Result, vfs.FS, error) {
		return Result{}, fsys, nil
	})
	require.NoError(t, err)
	assert.True(t, result.Reproducible)
}

func TestReplayReportsNotReproducibleOnLockfileDrift(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package-lock.json", []byte(`{"lockfileVersion":3}`)))

	rc := RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "main"}
	spec, err := BuildRunSpec(fsys, rc, "/project", KindNodeScript, config.Defaults(), 1700000000)
	require.NoError(t, err)

	require.NoError(t, fsys.WriteFileSync("/project/package-lock.json", []byte(`{"lockfileVersion":3,"drifted":true}`)))

	result, err := Replay(context.Background(), spec, config.Defaults(), func(ctx context.Context, opts config.Options, rc RepoCoordinates) (Result, vfs.FS, error) {
		return Result{}, fsys, nil
	})
	require.NoError(t, err)
	assert.False(t, result.Reproducible)
}
