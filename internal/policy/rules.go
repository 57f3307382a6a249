// Package policy decodes backend rule records into typed rules and rebuilds
// the enforcer's working sets. All functions are pure.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guardline/agent/internal/domain"
)

// RawRule is the loose wire form of a rule as the backend sends it.
// Decode converts it to the typed domain.Rule exactly once per fetch.
type RawRule struct {
	ID            int64  `json:"id"`
	RuleType      string `json:"rule_type"`
	AppName       string `json:"app_name,omitempty"`
	WebsiteURL    string `json:"website_url,omitempty"`
	LimitMinutes  int64  `json:"time_limit_minutes,omitempty"`
	ScheduleStart string `json:"schedule_start,omitempty"` // "HH:MM"
	ScheduleEnd   string `json:"schedule_end,omitempty"`
	ScheduleDays  string `json:"schedule_days,omitempty"` // comma list, numeric or three-letter
	Enabled       bool   `json:"enabled"`
}

// Decode converts raw backend records into typed rules. Records with an
// unknown type or an unparseable schedule are skipped, not fatal: a single
// malformed rule must not drop the whole snapshot.
func Decode(raws []RawRule) []domain.Rule {
	rules := make([]domain.Rule, 0, len(raws))
	for _, raw := range raws {
		r, err := decodeOne(raw)
		if err != nil {
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

func decodeOne(raw RawRule) (domain.Rule, error) {
	kind := domain.RuleKind(strings.ToLower(strings.TrimSpace(raw.RuleType)))
	switch kind {
	case domain.KindAppBlock, domain.KindTimeLimit, domain.KindDailyLimit,
		domain.KindSchedule, domain.KindLockDevice, domain.KindNetworkBlock,
		domain.KindWebsiteBlock:
	default:
		return domain.Rule{}, fmt.Errorf("unknown rule type %q", raw.RuleType)
	}

	r := domain.Rule{
		ID:           raw.ID,
		Kind:         kind,
		Apps:         SplitApps(raw.AppName),
		WebsiteURL:   strings.TrimSpace(raw.WebsiteURL),
		LimitSeconds: raw.LimitMinutes * 60,
		Enabled:      raw.Enabled,
	}

	if raw.ScheduleStart != "" || raw.ScheduleEnd != "" {
		w, err := parseWindow(raw.ScheduleStart, raw.ScheduleEnd, raw.ScheduleDays)
		if err != nil {
			return domain.Rule{}, err
		}
		r.Window = w
	}
	return r, nil
}

// SplitApps splits a comma-separated app list and normalizes each name.
func SplitApps(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	apps := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := NormalizeApp(p); name != "" {
			apps = append(apps, name)
		}
	}
	return apps
}

// NormalizeApp case-folds a name and strips the .exe suffix so rules match
// detections regardless of how the parent typed them.
func NormalizeApp(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".exe")
	return name
}

// parseWindow parses "HH:MM" bounds plus a day list into a ScheduleWindow.
func parseWindow(start, end, days string) (domain.ScheduleWindow, error) {
	var w domain.ScheduleWindow
	var err error
	if w.StartMin, err = parseHHMM(start); err != nil {
		return w, err
	}
	if w.EndMin, err = parseHHMM(end); err != nil {
		return w, err
	}
	if w.Days, err = ParseDays(days); err != nil {
		return w, err
	}
	return w, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

var dayTokens = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// ParseDays accepts numeric tokens (0=Sunday..6) and three-letter names,
// mixed freely. An empty list means every day.
func ParseDays(list string) ([]time.Weekday, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, tok := range strings.Split(list, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 0 || n > 6 {
				return nil, fmt.Errorf("day out of range: %d", n)
			}
			days = append(days, time.Weekday(n))
			continue
		}
		if len(tok) >= 3 {
			if d, ok := dayTokens[tok[:3]]; ok {
				days = append(days, d)
				continue
			}
		}
		return nil, fmt.Errorf("invalid day token %q", tok)
	}
	return days, nil
}

// commonTLDs are appended to keyword patterns so "youtube" blocks the usual
// variants without a wildcard resolver.
var commonTLDs = []string{".com", ".net", ".org", ".tv", ".co", ".io"}

// ExpandWebsite turns one website pattern into the concrete domain list that
// goes into the hosts file. Exact domains expand to bare + www; keyword or
// wildcard patterns expand across common TLDs.
func ExpandWebsite(pattern string) []string {
	p := strings.ToLower(strings.TrimSpace(pattern))
	p = strings.TrimPrefix(p, "https://")
	p = strings.TrimPrefix(p, "http://")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}

	if strings.HasPrefix(p, "*.") {
		p = strings.TrimPrefix(p, "*.")
	}

	if strings.Contains(p, ".") {
		bare := strings.TrimPrefix(p, "www.")
		return []string{bare, "www." + bare}
	}

	// Keyword pattern: fan out across common TLDs.
	domains := make([]string, 0, len(commonTLDs)*2)
	for _, tld := range commonTLDs {
		domains = append(domains, p+tld, "www."+p+tld)
	}
	return domains
}
