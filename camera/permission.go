package camera

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	PermissionCacheFile = "permission_hint.json"
	permissionCacheTTL  = 7 * 24 * time.Hour
)

// PermissionCache holds the last known permission state. It only decides
// whether device access is raced against a timeout.
type PermissionCache struct {
	mu    sync.Mutex
	state PermissionState
	path  string
}

var defaultPermissions = &PermissionCache{}

// DefaultPermissions returns the process-wide cache shared by controllers
// that do not configure their own.
func DefaultPermissions() *PermissionCache { return defaultPermissions }

func (p *PermissionCache) Get() PermissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return PermissionUnknown
	}
	return p.state
}

func (p *PermissionCache) Set(s PermissionState) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	path := p.path
	p.mu.Unlock()
	if changed && path != "" {
		writeHint(path, s)
	}
}

type cachedHint struct {
	State     PermissionState `json:"state"`
	CheckedAt int64           `json:"checked_at"`
}

// Persist loads any saved hint from dir and saves future changes there.
// A missing, stale or corrupt file leaves the cache untouched.
func (p *PermissionCache) Persist(dir string) {
	path := filepath.Join(dir, PermissionCacheFile)
	state, ok := readHint(path)
	p.mu.Lock()
	p.path = path
	if ok {
		p.state = state
	}
	p.mu.Unlock()
}

func readHint(path string) (PermissionState, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var c cachedHint
	if json.Unmarshal(data, &c) != nil {
		return "", false
	}
	if time.Since(time.Unix(c.CheckedAt, 0)) > permissionCacheTTL {
		return "", false
	}
	switch c.State {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return c.State, true
	}
	return "", false
}

func writeHint(path string, s PermissionState) {
	data, err := json.Marshal(cachedHint{State: s, CheckedAt: time.Now().Unix()})
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	_ = os.WriteFile(path, data, 0644)
}
