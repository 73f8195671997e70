package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want RepoCoordinates
	}{
		{
			name: "plain https",
			url:  "https://github.com/acme/widgets",
			want: RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "HEAD"},
		},
		{
			name: "plain https with .git suffix",
			url:  "https://github.com/acme/widgets.git",
			want: RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "HEAD"},
		},
		{
			name: "tree URL with ref and subdir",
			url:  "https://github.com/acme/widgets/tree/v2.0.0/packages/core",
			want: RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "v2.0.0", Subdir: "packages/core"},
		},
		{
			name: "git+https with ref fragment",
			url:  "git+https://github.com/acme/widgets.git#v1.2.3",
			want: RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "v1.2.3"},
		},
		{
			name: "short host:owner/repo form",
			url:  "github.com:acme/widgets#main",
			want: RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "main"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRepoURL(tc.url)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRepoURLRejectsUnrecognizedShape(t *testing.T) {
	_, err := ParseRepoURL("not a url at all")
	assert.Error(t, err)
}

func TestCodeloadURLRewritesGitHubHost(t *testing.T) {
	rc := RepoCoordinates{Host: "github.com", Owner: "acme", Repo: "widgets", Ref: "main"}
	assert.Equal(t, "https://codeload.github.com/acme/widgets/tar.gz/main", codeloadURL(rc))
}
