package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

func TestDetectRunnableProjectStaticSite(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/index.html", []byte("<!doctype html><html></html>")))

	d := DetectRunnableProject(fsys, "/project", 2)
	assert.Equal(t, KindClientBundler, d.Kind)
}

func TestDetectRunnableProjectPreBuiltDist(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/dist/manifest.json", []byte(`{}`)))

	d := DetectRunnableProject(fsys, "/project", 2)
	assert.Equal(t, KindDist, d.Kind)
	assert.Equal(t, "/project", d.ProjectPath)
}

func TestDetectRunnableProjectSSRFramework(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package.json", []byte(`{
		"name": "demo",
		"dependencies": { "next": "^14.0.0" }
	}`)))
	require.NoError(t, fsys.WriteFileSync("/project/pages/index.js", []byte("export default function Home() {}")))

	d := DetectRunnableProject(fsys, "/project", 2)
	assert.Equal(t, KindSSR, d.Kind)
	assert.Greater(t, d.Score, 0.8)
}

func TestDetectRunnableProjectNodeScript(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/package.json", []byte(`{
		"name": "demo",
		"scripts": { "start": "node server.js" }
	}`)))
	require.NoError(t, fsys.WriteFileSync("/project/server.js", []byte("require('http').createServer().listen(3000)")))

	d := DetectRunnableProject(fsys, "/project", 2)
	assert.Equal(t, KindNodeScript, d.Kind)
	assert.Equal(t, "/project/server.js", d.EntryFile)
}

func TestDetectRunnableProjectFallsBackToDescendant(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/README.md", []byte("# demo")))
	require.NoError(t, fsys.WriteFileSync("/project/packages/web/index.html", []byte("<html></html>")))

	d := DetectRunnableProject(fsys, "/project", 3)
	assert.Equal(t, KindClientBundler, d.Kind)
	assert.Equal(t, "/project/packages/web", d.ProjectPath)
}

func TestDetectRunnableProjectDefaultsToStatic(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/README.md", []byte("# empty project")))

	d := DetectRunnableProject(fsys, "/project", 1)
	assert.Equal(t, KindStatic, d.Kind)
}
