package infra

import (
	"strings"

	"github.com/guardline/agent/internal/domain"
)

// Known VPN/proxy tool process names matched as substrings.
var vpnProcessPatterns = []string{
	"openvpn", "wireguard", "nordvpn", "expressvpn", "protonvpn",
	"surfshark", "windscribe", "tunnelbear", "hotspotshield", "cyberghost",
	"mullvad", "psiphon", "ultrasurf", "lantern", "shadowsocks",
	"v2ray", "tor.exe", "proxifier",
}

// Vendor processes that merely contain a similar substring. Checked first to
// avoid false positives (e.g. a graphics driver shipping "vpnagent" helpers
// would still be caught, but our own binaries and common system tooling are
// excused).
var vpnWhitelist = []string{
	"guardagent", "guardhelper", "monitor", "editor",
}

// VPNDetectorImpl scans running process names against the known tool list.
// Detection is logged and reported, not auto-blocked.
type VPNDetectorImpl struct {
	pm domain.ProcessManager
}

// NewVPNDetector creates a detector backed by the process manager.
func NewVPNDetector(pm domain.ProcessManager) *VPNDetectorImpl {
	return &VPNDetectorImpl{pm: pm}
}

// Scan returns the names of detected VPN/proxy processes, deduplicated.
func (d *VPNDetectorImpl) Scan() ([]string, error) {
	procs, err := d.pm.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var detected []string
	for _, p := range procs {
		name := strings.ToLower(p.Name)
		if isWhitelisted(name) {
			continue
		}
		for _, pattern := range vpnProcessPatterns {
			if strings.Contains(name, pattern) {
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					detected = append(detected, p.Name)
				}
				break
			}
		}
	}
	return detected, nil
}

func isWhitelisted(name string) bool {
	for _, w := range vpnWhitelist {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// Ensure VPNDetectorImpl implements domain.VPNDetector.
var _ domain.VPNDetector = (*VPNDetectorImpl)(nil)
