package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"nutriscan/log"
)

const (
	cacheFile     = "update_check.json"
	cacheTTL      = 24 * time.Hour
	checkInterval = 6 * time.Hour
	checkTimeout  = 15 * time.Second
)

// Checker finds releases newer than Version. CacheDir, when set, keeps the
// last answer for a day so repeated launches stay offline.
type Checker struct {
	Version  string
	CacheDir string

	repo    string
	apiBase string
	client  *http.Client
}

func NewChecker(version, cacheDir string) *Checker {
	return &Checker{
		Version:  version,
		CacheDir: cacheDir,
		repo:     Repo,
		apiBase:  "https://api.github.com",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Checker) enabled() bool {
	return c.repo != "" && c.Version != "dev"
}

// githubRelease is the subset of the releases API used here.
type githubRelease struct {
	Tag    string `json:"tag_name"`
	Assets []struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
	} `json:"assets"`
}

func assetName() string {
	name := fmt.Sprintf("%s_%s_%s", BinaryName, runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Latest asks GitHub for the newest release. It returns nil when the
// build is already current or checks are disabled.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	if !c.enabled() {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.repo), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api: %s", resp.Status)
	}

	var gh githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}

	rel := &Release{Version: gh.Tag}
	want := assetName()
	for _, a := range gh.Assets {
		switch a.Name {
		case want:
			rel.AssetURL = a.URL
		case "checksums.txt":
			rel.ChecksumURL = a.URL
		}
	}
	if rel.AssetURL == "" {
		return nil, fmt.Errorf("no asset %q in release %s", want, gh.Tag)
	}
	if !rel.NewerThan(c.Version) {
		return nil, nil
	}
	return rel, nil
}

// cacheEntry is the on-disk answer; an empty Release means "up to date".
type cacheEntry struct {
	Release
	CheckedAt time.Time
}

func (c *Checker) cachePath() string { return filepath.Join(c.CacheDir, cacheFile) }

func (c *Checker) load() (*Release, bool) {
	if c.CacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return nil, false
	}
	var e cacheEntry
	if json.Unmarshal(data, &e) != nil || time.Since(e.CheckedAt) > cacheTTL {
		return nil, false
	}
	if e.Version == "" {
		return nil, true
	}
	return &e.Release, true
}

func (c *Checker) save(rel *Release) {
	if c.CacheDir == "" {
		return
	}
	e := cacheEntry{CheckedAt: time.Now()}
	if rel != nil {
		e.Release = *rel
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.CacheDir, 0755); err != nil {
		return
	}
	if err := os.WriteFile(c.cachePath(), data, 0644); err != nil {
		log.Warnf("update cache: %v", err)
	}
}

// Cached is Latest behind the on-disk cache.
func (c *Checker) Cached(ctx context.Context) (*Release, error) {
	if !c.enabled() {
		return nil, nil
	}
	if rel, ok := c.load(); ok {
		return rel, nil
	}
	rel, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	c.save(rel)
	return rel, nil
}

// Watch checks now and then every few hours until ctx is done, calling
// notify for each newer release found.
func (c *Checker) Watch(ctx context.Context, notify func(Release)) {
	if !c.enabled() {
		return
	}
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			rel, err := c.Cached(cctx)
			cancel()
			switch {
			case err != nil:
				log.Warnf("update check: %v", err)
			case rel != nil:
				notify(*rel)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
