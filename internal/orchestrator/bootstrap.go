package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/BleedingDev/almostbun-sub000/internal/cachestore"
	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

var (
	reTreeURL  = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+)/tree/([^/]+)(?:/(.*))?$`)
	rePlainURL = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+?)(?:\.git)?$`)
	reGitPlus  = regexp.MustCompile(`^git\+https?://([^/]+)/([^/]+)/([^/]+?)(?:\.git)?(?:#(.+))?$`)
	reShort    = regexp.MustCompile(`^([^:]+):([^/]+)/([^#]+)(?:#(.+))?$`)
)

// ParseRepoURL implements spec §4.8 step 1's accepted shapes.
func ParseRepoURL(raw string) (RepoCoordinates, error) {
	if m := reTreeURL.FindStringSubmatch(raw); m != nil {
		return RepoCoordinates{Host: m[1], Owner: m[2], Repo: m[3], Ref: m[4], Subdir: m[5]}, nil
	}
	if m := reGitPlus.FindStringSubmatch(raw); m != nil {
		ref := m[4]
		if ref == "" {
			ref = "HEAD"
		}
		return RepoCoordinates{Host: m[1], Owner: m[2], Repo: m[3], Ref: ref}, nil
	}
	if m := reShort.FindStringSubmatch(raw); m != nil {
		ref := m[4]
		if ref == "" {
			ref = "HEAD"
		}
		return RepoCoordinates{Host: m[1], Owner: m[2], Repo: m[3], Ref: ref}, nil
	}
	if m := rePlainURL.FindStringSubmatch(raw); m != nil {
		return RepoCoordinates{Host: m[1], Owner: m[2], Repo: m[3], Ref: "HEAD"}, nil
	}
	return RepoCoordinates{}, fmt.Errorf("unrecognized repository URL: %s", raw)
}

// codeloadURL builds a codeload.github.com-style archive URL. Other
// hosts are expected to expose an equivalent endpoint; the pattern is
// generalized from GitHub's because the retrieval pack's fixtures only
// target GitHub-shaped hosts.
func codeloadURL(rc RepoCoordinates) string {
	host := rc.Host
	if host == "github.com" {
		host = "codeload.github.com"
	}
	return fmt.Sprintf("https://%s/%s/%s/tar.gz/%s", host, rc.Owner, rc.Repo, url.PathEscape(rc.Ref))
}

// treeAPIURL is the tree-listing fallback used when the full archive
// fetch fails (spec §4.8 step 1).
func treeAPIURL(rc RepoCoordinates) string {
	return fmt.Sprintf("https://api.%s/repos/%s/%s/git/trees/%s?recursive=1", rc.Host, rc.Owner, rc.Repo, url.PathEscape(rc.Ref))
}

// Fetcher fetches bytes over HTTP with retry and an optional proxy
// fallback chain (spec §4.8 step 1, §5 "Network operations have attempt
// counts and per-attempt timeouts... fall through to a proxy chain").
type Fetcher struct {
	Client     *http.Client
	Proxies    []string // proxy base URLs tried in order after the direct attempt fails
	Attempts   int
	Log        logrus.FieldLogger

	// Cache is the optional persistent archive-cache tier of spec §5
	// (S3Store or RedisStore behind cachestore.Quota's LRU bookkeeping).
	// nil disables the persistent tier; memCache (always present) still
	// gives a run-local in-memory tier in front of it.
	Cache    *cachestore.Quota
	memCache sync.Map
}

// NewFetcher builds a Fetcher with sane defaults. cache may be nil.
func NewFetcher(log logrus.FieldLogger, cache *cachestore.Quota) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 20 * time.Second},
		Attempts: 3,
		Log:      log,
		Cache:    cache,
	}
}

// archiveKey identifies one repo+ref's archive across both cache tiers.
func archiveKey(rc RepoCoordinates) string {
	return rc.Owner + "/" + rc.Repo + "@" + rc.Ref
}

// fetchArchive implements the two-tier cache read-through of spec §5:
// an in-process memory tier, then the persistent Cache tier, then a real
// network fetch — reporting which tier served the bytes as the run's
// CacheProvenance.
func (f *Fetcher) fetchArchive(ctx context.Context, rc RepoCoordinates) ([]byte, string, error) {
	key := archiveKey(rc)
	if v, ok := f.memCache.Load(key); ok {
		return v.([]byte), "memory", nil
	}
	if f.Cache != nil {
		if data, err := f.Cache.Get(ctx, "archive", key); err == nil {
			f.memCache.Store(key, data)
			return data, "persistent", nil
		}
	}
	data, err := f.fetch(ctx, codeloadURL(rc))
	if err != nil {
		return nil, "", err
	}
	f.memCache.Store(key, data)
	if f.Cache != nil {
		if err := f.Cache.Put(ctx, "archive", key, data); err != nil && f.Log != nil {
			f.Log.WithError(err).Warn("archive cache write failed")
		}
	}
	return data, "network", nil
}

func (f *Fetcher) fetch(ctx context.Context, targetURL string) ([]byte, error) {
	urls := append([]string{targetURL}, proxyURLs(f.Proxies, targetURL)...)
	var lastErr error
	for _, u := range urls {
		for attempt := 1; attempt <= f.Attempts; attempt++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			resp, err := f.Client.Do(req)
			if err != nil {
				lastErr = err
				f.logAttempt(u, attempt, err)
				continue
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				lastErr = fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u)
				f.logAttempt(u, attempt, lastErr)
				continue
			}
			return io.ReadAll(resp.Body)
		}
	}
	return nil, lastErr
}

func (f *Fetcher) logAttempt(u string, attempt int, err error) {
	if f.Log != nil {
		f.Log.WithField("attempt", attempt).WithField("url", u).WithError(err).Warn("archive fetch attempt failed")
	}
}

func proxyURLs(proxies []string, target string) []string {
	out := make([]string, 0, len(proxies))
	for _, p := range proxies {
		out = append(out, strings.TrimRight(p, "/")+"/"+target)
	}
	return out
}

// Bootstrap implements spec §4.8 step 1: fetch the archive (falling back
// to the tree-listing API + per-file raw fetches on full failure) and
// extract it into dest inside fsys, stripping the single leading archive
// directory.
func Bootstrap(ctx context.Context, fetcher *Fetcher, fsys vfs.FS, repoURL, dest string) (RepoCoordinates, []TraceEvent, string, error) {
	var trace []TraceEvent
	seq := 0
	emit := func(msg string, data map[string]interface{}) {
		seq++
		trace = append(trace, TraceEvent{Sequence: seq, AtMs: 0, Phase: "bootstrap", Message: msg, Data: data})
	}

	rc, err := ParseRepoURL(repoURL)
	if err != nil {
		return RepoCoordinates{}, trace, "", err
	}
	emit("parsed repo coordinates", map[string]interface{}{"owner": rc.Owner, "repo": rc.Repo, "ref": rc.Ref})

	archiveBytes, provenance, archiveErr := fetcher.fetchArchive(ctx, rc)
	if archiveErr == nil {
		emit("fetched archive", map[string]interface{}{"bytes": len(archiveBytes), "cacheProvenance": provenance})
		if err := extractTarGz(fsys, archiveBytes, dest); err != nil {
			return rc, trace, provenance, diag.NewLoadFailed(dest, err)
		}
		if rc.Subdir != "" {
			if err := rehomeSubdir(fsys, dest, rc.Subdir); err != nil {
				return rc, trace, provenance, err
			}
		}
		return rc, trace, provenance, nil
	}
	emit("archive fetch failed, falling back to tree API", map[string]interface{}{"error": archiveErr.Error()})

	if err := bootstrapViaTreeAPI(ctx, fetcher, fsys, rc, dest); err != nil {
		return rc, trace, "fallback-api", &FailureEnvelope{
			Code:    diag.KindBootstrapNetworkFailed,
			Phase:   "bootstrap",
			Message: fmt.Sprintf("archive and API fallback both failed: %v / %v", archiveErr, err),
			Hints:   []string{"check network connectivity", "verify the repository URL and ref"},
		}
	}
	emit("bootstrapped via tree API fallback", nil)
	return rc, trace, "fallback-api", nil
}

func extractTarGz(fsys vfs.FS, data []byte, dest string) error {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gzr.Close()
	tr := tar.NewReader(gzr)

	var rootPrefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name := hdr.Name
		if rootPrefix == "" {
			if idx := strings.Index(name, "/"); idx >= 0 {
				rootPrefix = name[:idx+1]
			}
		}
		relative := strings.TrimPrefix(name, rootPrefix)
		if relative == "" {
			continue
		}
		target := path.Join(dest, relative)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAllSync(target); err != nil {
				return err
			}
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			if err := fsys.WriteFileSync(target, content); err != nil {
				return err
			}
		}
	}
	return nil
}

// rehomeSubdir copies the regular files directly inside dest/subdir up to
// dest, for repo URLs naming a subdirectory (spec §4.8 step 1). Nested
// directories are not copied, and the originals stay under dest/subdir.
func rehomeSubdir(fsys vfs.FS, dest, subdir string) error {
	src := path.Join(dest, subdir)
	names, err := fsys.ReadDirSync(src)
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := fsys.ReadFileSync(path.Join(src, name))
		if err != nil {
			continue // directories: left in place, a bounded best-effort move
		}
		if err := fsys.WriteFileSync(path.Join(dest, name), data); err != nil {
			return err
		}
	}
	return nil
}

// treeEntry is one node of a GitHub-shaped recursive tree listing.
type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
}

type treeListing struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// rawContentURL builds the raw-file URL for one blob, generalized from
// GitHub's raw.githubusercontent.com scheme (spec §4.8 step 1's "per-file
// raw fetches").
func rawContentURL(rc RepoCoordinates, filePath string) string {
	host := rc.Host
	if host == "github.com" {
		host = "raw.githubusercontent.com"
	} else {
		host = "raw." + host
	}
	return fmt.Sprintf("https://%s/%s/%s/%s/%s", host, rc.Owner, rc.Repo, url.PathEscape(rc.Ref), filePath)
}

// bootstrapViaTreeAPI is the fallback of spec §4.8 step 1: list the tree,
// then raw-fetch each file individually and materialize it under dest. A
// listing that can't be parsed, or a project that ends up with zero
// files fetched, is a failed bootstrap — it must never report success
// having materialized nothing.
func bootstrapViaTreeAPI(ctx context.Context, fetcher *Fetcher, fsys vfs.FS, rc RepoCoordinates, dest string) error {
	raw, err := fetcher.fetch(ctx, treeAPIURL(rc))
	if err != nil {
		return fmt.Errorf("tree listing: %w", err)
	}

	var listing treeListing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return fmt.Errorf("tree listing is not valid JSON: %w", err)
	}
	if listing.Truncated && fetcher.Log != nil {
		fetcher.Log.Warn("tree listing was truncated by the host API; some files will be missing")
	}

	if err := fsys.MkdirAllSync(dest); err != nil {
		return err
	}

	fetched := 0
	var lastErr error
	for _, entry := range listing.Tree {
		if entry.Type != "blob" {
			continue
		}
		target := path.Join(dest, entry.Path)
		if err := fsys.MkdirAllSync(path.Dir(target)); err != nil {
			lastErr = err
			continue
		}
		content, err := fetcher.fetch(ctx, rawContentURL(rc, entry.Path))
		if err != nil {
			lastErr = err
			if fetcher.Log != nil {
				fetcher.Log.WithField("path", entry.Path).WithError(err).Warn("per-file raw fetch failed")
			}
			continue
		}
		if err := fsys.WriteFileSync(target, content); err != nil {
			lastErr = err
			continue
		}
		fetched++
	}

	if fetched == 0 {
		if lastErr != nil {
			return fmt.Errorf("no files materialized from tree listing, last error: %w", lastErr)
		}
		return fmt.Errorf("tree listing named no blobs")
	}
	return nil
}
