package infra

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

const (
	seedFileName = ".seed"
	seedSize     = 32
	seedPrefix   = "gl1$" // versioned so a future scheme can migrate
)

// MachineKeyProvider derives the secret store key from a local random seed
// mixed with the machine identity. Copying the store plus the seed file to
// another machine yields a different key, so the credentials cannot simply
// be lifted off the disk.
type MachineKeyProvider struct {
	seedPath string
	hostID   func() (string, error)
	logger   *zap.Logger
}

// NewMachineKeyProvider creates a provider rooted in the given data directory.
func NewMachineKeyProvider(dataDir string, logger *zap.Logger) *MachineKeyProvider {
	return &MachineKeyProvider{
		seedPath: filepath.Join(dataDir, seedFileName),
		hostID:   host.HostID,
		logger:   logger,
	}
}

// EnsureKey returns the derived store key, generating the seed on first use.
// A malformed seed file is an error, not a regeneration: silently minting a
// new key would orphan the existing store.
func (p *MachineKeyProvider) EnsureKey() ([]byte, error) {
	seed, err := p.loadSeed()
	if os.IsNotExist(err) {
		seed, err = p.generateSeed()
	}
	if err != nil {
		return nil, err
	}
	return p.deriveKey(seed), nil
}

func (p *MachineKeyProvider) loadSeed() ([]byte, error) {
	raw, err := os.ReadFile(p.seedPath)
	if err != nil {
		return nil, err
	}
	encoded := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(encoded, seedPrefix) {
		return nil, fmt.Errorf("seed file %s has no recognized header", p.seedPath)
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(encoded, seedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	if len(seed) != seedSize {
		return nil, fmt.Errorf("invalid seed size: got %d, want %d", len(seed), seedSize)
	}
	return seed, nil
}

func (p *MachineKeyProvider) generateSeed() ([]byte, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.seedPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create seed directory: %w", err)
	}
	encoded := seedPrefix + hex.EncodeToString(seed)
	if err := os.WriteFile(p.seedPath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write seed file: %w", err)
	}
	return seed, nil
}

// deriveKey binds the seed to this machine. A missing host id degrades to a
// seed-only key rather than refusing to start.
func (p *MachineKeyProvider) deriveKey(seed []byte) []byte {
	id, err := p.hostID()
	if err != nil {
		p.logger.Warn("failed to read host id, key not machine-bound", zap.Error(err))
		id = ""
	}
	sum := sha256.Sum256(append(append([]byte{}, seed...), []byte(id)...))
	return sum[:]
}

// Ensure MachineKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*MachineKeyProvider)(nil)
