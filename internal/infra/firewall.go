package infra

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

// Agent-owned firewall rule names. Cleanup matches on these names only, so
// unrelated firewall state is never touched.
const (
	ruleAllowAgent   = "GuardlineAllowAgent"
	ruleAllowDNS     = "GuardlineAllowDNS"
	ruleAllowLAN     = "GuardlineAllowLAN"
	ruleAllowBackend = "GuardlineAllowBackend"
)

// Private LAN ranges kept reachable while outbound traffic is blocked.
var lanRanges = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"

// FirewallManagerImpl implements domain.FirewallManager with netsh.
//
// A single deny-remote-any rule is unreliable on some firewall states, so
// the block flips the default outbound policy to deny and pre-installs
// explicit allow rules for the agent itself, DNS, LAN ranges and the backend
// server IP. The backend IP is resolved and pinned before the policy flips,
// since DNS may become unusable mid-transition.
type FirewallManagerImpl struct {
	runner      Runner
	backendHost string
	logger      *zap.Logger

	mu          sync.Mutex
	blocked     bool
	policyKnown bool
}

// NewFirewallManager creates a firewall controller for the given backend host.
func NewFirewallManager(runner Runner, backendHost string, logger *zap.Logger) *FirewallManagerImpl {
	return &FirewallManagerImpl{runner: runner, backendHost: backendHost, logger: logger}
}

// BlockOutbound applies the default-deny policy with the allow-list.
// Idempotent: existing agent rules are replaced, not duplicated.
func (f *FirewallManagerImpl) BlockOutbound(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Pin the backend IP while DNS still works.
	backendIP := f.resolveBackend()

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve agent executable: %w", err)
	}

	// Remove stale agent rules first so reapplication stays idempotent.
	f.removeAgentRules(ctx)

	type ruleSpec struct {
		name string
		args []string
	}
	rules := []ruleSpec{
		{ruleAllowAgent, []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + ruleAllowAgent, "dir=out", "action=allow",
			"program=" + exePath, "enable=yes"}},
		{ruleAllowDNS, []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + ruleAllowDNS, "dir=out", "action=allow",
			"protocol=UDP", "remoteport=53", "enable=yes"}},
		{ruleAllowLAN, []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + ruleAllowLAN, "dir=out", "action=allow",
			"remoteip=" + lanRanges, "enable=yes"}},
	}
	if backendIP != "" {
		rules = append(rules, ruleSpec{ruleAllowBackend, []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + ruleAllowBackend, "dir=out", "action=allow",
			"remoteip=" + backendIP, "enable=yes"}})
	}

	for _, r := range rules {
		if _, err := f.runner.Run(ctx, "netsh", r.args...); err != nil {
			return fmt.Errorf("failed to add rule %s: %w", r.name, err)
		}
	}

	// Allow rules are in place, now flip the default policy.
	if _, err := f.runner.Run(ctx, "netsh",
		"advfirewall", "set", "allprofiles", "firewallpolicy", "blockinbound,blockoutbound"); err != nil {
		return fmt.Errorf("failed to set outbound policy: %w", err)
	}

	f.blocked = true
	f.policyKnown = true
	f.logger.Info("outbound network blocked",
		zap.String("backend_ip", backendIP))
	return nil
}

// UnblockOutbound restores default-allow and removes the agent-owned rules.
// The resulting firewall state is indistinguishable from never blocking.
func (f *FirewallManagerImpl) UnblockOutbound(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.runner.Run(ctx, "netsh",
		"advfirewall", "set", "allprofiles", "firewallpolicy", "blockinbound,allowoutbound"); err != nil {
		return fmt.Errorf("failed to restore outbound policy: %w", err)
	}

	f.removeAgentRules(ctx)
	f.blocked = false
	f.policyKnown = true
	f.logger.Info("outbound network unblocked")
	return nil
}

// IsBlocked reports whether the outbound block is currently applied. The
// first call reads the live firewall policy so a block left behind by a
// crashed run is seen and can be lifted.
func (f *FirewallManagerImpl) IsBlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.policyKnown {
		f.blocked = f.readOutboundPolicy()
		f.policyKnown = true
	}
	return f.blocked
}

// readOutboundPolicy reads the actual outbound policy from netsh.
func (f *FirewallManagerImpl) readOutboundPolicy() bool {
	out, err := f.runner.Run(context.Background(), "netsh",
		"advfirewall", "show", "allprofiles", "firewallpolicy")
	if err != nil {
		f.logger.Warn("failed to read firewall policy", zap.Error(err))
		return false
	}
	return strings.Contains(strings.ToLower(out), "blockoutbound")
}

// removeAgentRules deletes agent-owned rules. Missing rules are not errors.
func (f *FirewallManagerImpl) removeAgentRules(ctx context.Context) {
	for _, name := range []string{ruleAllowAgent, ruleAllowDNS, ruleAllowLAN, ruleAllowBackend} {
		_, _ = f.runner.Run(ctx, "netsh",
			"advfirewall", "firewall", "delete", "rule", "name="+name)
	}
}

// resolveBackend returns the first resolved IPv4 of the backend host, or the
// host itself when it already is an IP literal.
func (f *FirewallManagerImpl) resolveBackend() string {
	if f.backendHost == "" {
		return ""
	}
	if ip := net.ParseIP(f.backendHost); ip != nil {
		return f.backendHost
	}
	addrs, err := net.LookupIP(f.backendHost)
	if err != nil {
		f.logger.Warn("failed to resolve backend host before block",
			zap.String("host", f.backendHost), zap.Error(err))
		return ""
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(addrs) > 0 {
		return addrs[0].String()
	}
	return ""
}

// Ensure FirewallManagerImpl implements domain.FirewallManager.
var _ domain.FirewallManager = (*FirewallManagerImpl)(nil)
