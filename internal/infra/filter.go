package infra

import (
	"strings"
	"unicode"
)

// System/background noise filtered before any accounting. Matched by exact
// name after normalization.
var systemProcesses = map[string]struct{}{
	"system":                  {},
	"registry":                {},
	"smss":                    {},
	"csrss":                   {},
	"wininit":                 {},
	"winlogon":                {},
	"services":                {},
	"lsass":                   {},
	"svchost":                 {},
	"fontdrvhost":             {},
	"dwm":                     {},
	"sihost":                  {},
	"taskhostw":               {},
	"explorer":                {},
	"searchindexer":           {},
	"searchhost":              {},
	"startmenuexperiencehost": {},
	"shellexperiencehost":     {},
	"runtimebroker":           {},
	"textinputhost":           {},
	"applicationframehost":    {},
	"systemsettings":          {},
	"securityhealthtray":      {},
	"securityhealthservice":   {},
	"ctfmon":                  {},
	"conhost":                 {},
	"dllhost":                 {},
	"wmiprvse":                {},
	"spoolsv":                 {},
	"audiodg":                 {},
	"msedgewebview2":          {},
	"widgets":                 {},
	"lockapp":                 {},
}

// Suffix heuristics for driver trays, updaters and other vendor noise.
var noiseSuffixes = []string{
	"tray", "updater", "update", "agent", "broker", "service", "helper",
	"crashhandler", "crashpad_handler", "notifier",
}

// Interactive CLI tools that own no window but still count as user apps.
var interactiveCLI = map[string]struct{}{
	"cmd":        {},
	"powershell": {},
	"pwsh":       {},
	"wt":         {},
	"ssh":        {},
	"python":     {},
	"node":       {},
}

// Accounts whose processes never count as user activity.
var systemAccounts = []string{
	"nt authority\\system",
	"nt authority\\local service",
	"nt authority\\network service",
	"window manager\\",
	"font driver host\\",
}

// Helper-binary suffixes collapsed into the parent application so usage is
// not fragmented across child processes.
var helperSuffixes = []string{
	"webhelper", "helper", "renderer", "gpuhelper", "crashhandler",
	"browser", "subprocess",
}

// IsSystemNoise reports whether a process is background noise that must be
// excluded before accounting.
func IsSystemNoise(name, exePath string) bool {
	n := normalizeProcName(name)
	if n == "" {
		return true
	}
	if _, ok := systemProcesses[n]; ok {
		return true
	}
	for _, suf := range noiseSuffixes {
		if strings.HasSuffix(n, suf) && n != suf {
			return true
		}
	}
	if exePath != "" {
		p := strings.ToLower(exePath)
		if strings.Contains(p, "\\windows\\system32\\") || strings.Contains(p, "\\windows\\syswow64\\") {
			return true
		}
	}
	return false
}

// IsInteractiveCLI reports whether the process is in the fixed allow-list of
// windowless interactive tools.
func IsInteractiveCLI(name string) bool {
	_, ok := interactiveCLI[normalizeProcName(name)]
	return ok
}

// IsSystemAccount reports whether the process owner is a service account.
// Used only as the fallback classification when window enumeration yields
// nothing at all.
func IsSystemAccount(username string) bool {
	u := strings.ToLower(username)
	if u == "" {
		return true
	}
	for _, sys := range systemAccounts {
		if strings.HasPrefix(u, sys) {
			return true
		}
	}
	return false
}

// CanonicalAppName collapses helper/child processes into one logical app
// name: strips the .exe suffix, known helper suffixes, and trailing numeric
// architecture markers ("app64" -> "app").
func CanonicalAppName(name string) string {
	n := normalizeProcName(name)
	for _, suf := range helperSuffixes {
		if strings.HasSuffix(n, suf) && len(n) > len(suf) {
			n = strings.TrimRight(n[:len(n)-len(suf)], " -_.")
			break
		}
	}
	n = strings.TrimRightFunc(n, unicode.IsDigit)
	n = strings.TrimRight(n, " -_.")
	if n == "" {
		// Purely numeric names keep their original form.
		return normalizeProcName(name)
	}
	return n
}

func normalizeProcName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}
