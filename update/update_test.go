package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    version
		wantErr bool
	}{
		{"1.2.3", version{1, 2, 3}, false},
		{"v0.1.5", version{0, 1, 5}, false},
		{"v1.0.0-dirty", version{1, 0, 0}, false},
		{"v2.3.4-rc1+build", version{2, 3, 4}, false},
		{"dev", version{}, true},
		{"", version{}, true},
		{"1.2", version{}, true},
		{"1.x.3", version{}, true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestReleaseNewerThan(t *testing.T) {
	tests := []struct {
		release, current string
		want             bool
	}{
		{"v0.2.0", "v0.1.5", true},
		{"v0.1.5", "v0.1.5", false},
		{"v0.1.4", "v0.1.5", false},
		{"v1.0.0", "v0.9.9", true},
		{"v0.1.6", "v0.1.5-dirty", true},
		{"v0.1.5", "dev", false},
		{"invalid", "v0.1.5", false},
	}
	for _, tt := range tests {
		if got := (Release{Version: tt.release}).NewerThan(tt.current); got != tt.want {
			t.Errorf("Release{%q}.NewerThan(%q) = %v, want %v", tt.release, tt.current, got, tt.want)
		}
	}
}

// releaseServer serves a latest release with one binary asset and its
// checksum file, counting API hits.
func releaseServer(t *testing.T, tag string, binary []byte, sum string, hits *int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/nutriscan/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		fmt.Fprintf(w, `{"tag_name": %q, "assets": [
			{"name": %q, "browser_download_url": %q},
			{"name": "checksums.txt", "browser_download_url": %q}]}`,
			tag, assetName(), srv.URL+"/bin", srv.URL+"/sums")
	})
	mux.HandleFunc("/bin", func(w http.ResponseWriter, r *http.Request) { w.Write(binary) })
	mux.HandleFunc("/sums", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  other_asset\n%s  %s\n", strings.Repeat("0", 64), sum, assetName())
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testChecker(current, cacheDir, base string) *Checker {
	c := NewChecker(current, cacheDir)
	c.repo = "acme/nutriscan"
	c.apiBase = base
	return c
}

func TestLatest(t *testing.T) {
	srv := releaseServer(t, "v1.2.0", nil, "", nil)
	ctx := context.Background()

	rel, err := testChecker("v1.1.9", "", srv.URL).Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rel == nil || rel.Version != "v1.2.0" || rel.AssetURL != srv.URL+"/bin" || rel.ChecksumURL != srv.URL+"/sums" {
		t.Fatalf("Latest = %+v", rel)
	}
	if rel, err := testChecker("v1.2.0", "", srv.URL).Latest(ctx); err != nil || rel != nil {
		t.Errorf("same version: %+v, %v", rel, err)
	}
	if rel, err := testChecker("dev", "", srv.URL).Latest(ctx); err != nil || rel != nil {
		t.Errorf("dev build: %+v, %v", rel, err)
	}
}

func TestDisabledWithoutRepo(t *testing.T) {
	c := NewChecker("v1.0.0", t.TempDir())
	c.repo = ""
	if c.enabled() {
		t.Fatal("enabled without a repo")
	}
	if rel, err := c.Cached(context.Background()); rel != nil || err != nil {
		t.Errorf("got %+v, %v", rel, err)
	}
}

func TestCachedAnswersFromDisk(t *testing.T) {
	hits := 0
	srv := releaseServer(t, "v0.2.0", nil, "", &hits)
	dir := t.TempDir()
	c := testChecker("v0.1.0", dir, srv.URL)

	for i := 0; i < 3; i++ {
		rel, err := c.Cached(context.Background())
		if err != nil || rel == nil || rel.Version != "v0.2.0" {
			t.Fatalf("Cached = %+v, %v", rel, err)
		}
	}
	if hits != 1 {
		t.Errorf("api hits = %d, want 1", hits)
	}

	// An up-to-date answer is cached too.
	up := testChecker("v0.2.0", t.TempDir(), srv.URL)
	up.Cached(context.Background())
	if _, ok := up.load(); !ok {
		t.Error("up-to-date answer not cached")
	}

	os.WriteFile(filepath.Join(dir, cacheFile), []byte("not json"), 0644)
	if _, ok := c.load(); ok {
		t.Error("corrupt cache accepted")
	}
}

func TestCacheExpires(t *testing.T) {
	dir := t.TempDir()
	c := testChecker("v0.1.0", dir, "http://127.0.0.1:1")
	old, _ := json.Marshal(map[string]any{"Version": "v0.2.0", "CheckedAt": "2000-01-01T00:00:00Z"})
	os.WriteFile(filepath.Join(dir, cacheFile), old, 0644)
	if _, ok := c.load(); ok {
		t.Error("stale cache accepted")
	}
}

func TestInstall(t *testing.T) {
	binary := []byte("#!/bin/sh\necho new\n")
	h := sha256.Sum256(binary)
	srv := releaseServer(t, "v2.0.0", binary, hex.EncodeToString(h[:]), nil)
	c := testChecker("v1.0.0", "", srv.URL)

	target := filepath.Join(t.TempDir(), "nutriscan")
	if err := os.WriteFile(target, []byte("old"), 0755); err != nil {
		t.Fatal(err)
	}

	rel, err := c.Latest(context.Background())
	if err != nil || rel == nil {
		t.Fatalf("Latest = %+v, %v", rel, err)
	}
	var progress strings.Builder
	if err := c.install(context.Background(), rel, target, &progress); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != string(binary) {
		t.Errorf("installed %q", got)
	}
	if _, err := os.Stat(target + ".old"); !os.IsNotExist(err) {
		t.Error("backup left behind")
	}
	if !strings.Contains(progress.String(), "100%") {
		t.Errorf("progress = %q", progress.String())
	}
}

func TestInstallChecksumMismatch(t *testing.T) {
	srv := releaseServer(t, "v2.0.0", []byte("tampered"), strings.Repeat("a", 64), nil)
	c := testChecker("v1.0.0", "", srv.URL)

	target := filepath.Join(t.TempDir(), "nutriscan")
	os.WriteFile(target, []byte("old"), 0755)

	rel := &Release{Version: "v2.0.0", AssetURL: srv.URL + "/bin", ChecksumURL: srv.URL + "/sums"}
	err := c.install(context.Background(), rel, target, nil)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "old" {
		t.Errorf("target replaced despite mismatch: %q", got)
	}
}

func TestEnabled(t *testing.T) {
	saved := Repo
	t.Cleanup(func() { Repo = saved })

	Repo = ""
	if Enabled("v1.0.0") {
		t.Error("enabled without a repo")
	}
	Repo = "acme/nutriscan"
	if !Enabled("v1.0.0") {
		t.Error("disabled with a repo")
	}
	if Enabled("dev") {
		t.Error("dev builds should not update")
	}
}
