package infra

import (
	"path/filepath"
	"strings"

	"github.com/guardline/agent/internal/domain"
)

// AppDetectorImpl combines process enumeration, window detection and noise
// filtering into the per-tick Detection records.
type AppDetectorImpl struct {
	pm domain.ProcessManager
	wd domain.WindowDetector
}

// NewAppDetector creates a detector.
func NewAppDetector(pm domain.ProcessManager, wd domain.WindowDetector) *AppDetectorImpl {
	return &AppDetectorImpl{pm: pm, wd: wd}
}

// Detect returns one Detection per currently running user application.
// A process counts as a user app if it owns a visible window, is a known
// interactive CLI tool, or (only when window enumeration yields nothing at
// all) runs under a non-system account.
func (d *AppDetectorImpl) Detect() ([]domain.Detection, error) {
	procs, err := d.pm.List()
	if err != nil {
		return nil, err
	}

	windows, err := d.wd.VisibleWindows()
	if err != nil {
		windows = nil // fall back to account-based classification
	}
	focused := d.wd.FocusedPID()

	detections := make([]domain.Detection, 0, 16)
	for _, p := range procs {
		if IsSystemNoise(p.Name, p.ExePath) {
			continue
		}

		title, hasWindow := windows[p.PID]
		isUserApp := hasWindow || IsInteractiveCLI(p.Name)
		if !isUserApp && len(windows) == 0 {
			isUserApp = !IsSystemAccount(p.Username)
		}
		if !isUserApp {
			continue
		}

		original := strings.ToLower(filepath.Base(p.ExePath))
		if original == "." {
			original = ""
		}
		detections = append(detections, domain.Detection{
			PID:              p.PID,
			App:              CanonicalAppName(p.Name),
			OriginalFilename: original,
			WindowTitle:      title,
			HasVisibleWindow: hasWindow,
			IsFocused:        p.PID == focused && focused != 0,
			ExePath:          p.ExePath,
		})
	}
	return detections, nil
}
