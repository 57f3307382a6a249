package infra

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/guardline/agent/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxUsageCacheAge bounds how stale a usage cache may be before the monitor
// starts cold.
const maxUsageCacheAge = time.Hour

// FileCacheStore implements domain.CacheStore with atomic-write JSON files.
// Filenames are obfuscated with a hash of the hostname so the monitored user
// cannot trivially find and delete the counters.
type FileCacheStore struct {
	usagePath string
	rulesPath string
	bootEpoch int64
	hostID    string
}

// NewFileCacheStore creates a cache store under dataDir. bootEpoch and
// hostID form the pair that detects reboots and foreign caches on load.
func NewFileCacheStore(dataDir string, bootEpoch int64, hostID string) (*FileCacheStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	hostname, _ := os.Hostname()
	hash := md5.Sum([]byte("guardline-cache-" + hostname))
	suffix := hex.EncodeToString(hash[:])[:8]

	return &FileCacheStore{
		usagePath: filepath.Join(dataDir, ".usage_"+suffix),
		rulesPath: filepath.Join(dataDir, ".rules_"+suffix),
		bootEpoch: bootEpoch,
		hostID:    hostID,
	}, nil
}

// NewFileCacheStoreWithPaths creates a store at explicit paths (for tests).
func NewFileCacheStoreWithPaths(usagePath, rulesPath string, bootEpoch int64, hostID string) *FileCacheStore {
	return &FileCacheStore{
		usagePath: usagePath,
		rulesPath: rulesPath,
		bootEpoch: bootEpoch,
		hostID:    hostID,
	}
}

// LoadUsage returns the cached usage state, applying the crash/reboot rules:
//   - missing or corrupt cache        -> cold start (nil, no error)
//   - different host or stale (>1h)   -> cold start
//   - same boot                       -> full state preserved
//   - different boot, same day        -> today's totals preserved, pending
//     discarded so nothing is double-reported
func (s *FileCacheStore) LoadUsage() (*domain.CachedUsage, error) {
	data, err := os.ReadFile(s.usagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cached domain.CachedUsage
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corruption is a cold start, never a crash.
		return nil, nil
	}

	if cached.HostID != s.hostID {
		return nil, nil
	}
	if time.Since(time.Unix(cached.SavedAt, 0)) > maxUsageCacheAge {
		return nil, nil
	}

	if cached.BootEpoch != s.bootEpoch {
		// Rebooted within the same day: keep totals, drop pending.
		cached.UsagePending = make(map[string]int64)
		cached.DevicePending = 0
		cached.BootEpoch = s.bootEpoch
	}
	return &cached, nil
}

// SaveUsage persists the usage state, stamping the current boot pair.
func (s *FileCacheStore) SaveUsage(u *domain.CachedUsage) error {
	u.BootEpoch = s.bootEpoch
	u.HostID = s.hostID
	u.SavedAt = time.Now().Unix()
	return atomicWriteJSON(s.usagePath, u)
}

// LoadRules returns the last cached rule snapshot, or nil on cold start.
func (s *FileCacheStore) LoadRules() ([]domain.Rule, error) {
	data, err := os.ReadFile(s.rulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rules []domain.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, nil
	}
	return rules, nil
}

// SaveRules persists the rule snapshot.
func (s *FileCacheStore) SaveRules(rules []domain.Rule) error {
	return atomicWriteJSON(s.rulesPath, rules)
}

// atomicWriteJSON writes via temp file + rename so a crash mid-write never
// leaves a truncated cache.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileCacheStore implements domain.CacheStore.
var _ domain.CacheStore = (*FileCacheStore)(nil)
