package infra

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRunner records every command and returns canned results.
type fakeRunner struct {
	calls   []string
	errOn   string // substring that triggers failure
	runErr  error
	outputs map[string]string // substring -> canned stdout
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if r.errOn != "" && strings.Contains(call, r.errOn) {
		return "", r.runErr
	}
	for sub, out := range r.outputs {
		if strings.Contains(call, sub) {
			return out, nil
		}
	}
	return "", nil
}

func (r *fakeRunner) containing(sub string) []string {
	var out []string
	for _, c := range r.calls {
		if strings.Contains(c, sub) {
			out = append(out, c)
		}
	}
	return out
}

// TestBlockOutbound_AllowRulesBeforePolicyFlip verifies the allow-list is
// installed before the default policy goes to deny
func TestBlockOutbound_AllowRulesBeforePolicyFlip(t *testing.T) {
	r := &fakeRunner{}
	f := NewFirewallManager(r, "203.0.113.10", zap.NewNop())

	require.NoError(t, f.BlockOutbound(context.Background()))
	assert.True(t, f.IsBlocked())

	var flipIdx, lastAddIdx int
	for i, c := range r.calls {
		if strings.Contains(c, "blockinbound,blockoutbound") {
			flipIdx = i
		}
		if strings.Contains(c, "add rule") {
			lastAddIdx = i
		}
	}
	assert.Greater(t, flipIdx, lastAddIdx, "policy flip must come after all allow rules")
}

// TestBlockOutbound_PinsBackendIP verifies an IP-literal backend gets its own
// allow rule without a DNS lookup
func TestBlockOutbound_PinsBackendIP(t *testing.T) {
	r := &fakeRunner{}
	f := NewFirewallManager(r, "203.0.113.10", zap.NewNop())

	require.NoError(t, f.BlockOutbound(context.Background()))

	backendRules := r.containing("name=" + ruleAllowBackend + " dir=out")
	require.Len(t, backendRules, 1)
	assert.Contains(t, backendRules[0], "remoteip=203.0.113.10")
}

// TestBlockOutbound_CoreAllowRules verifies agent, DNS and LAN stay reachable
func TestBlockOutbound_CoreAllowRules(t *testing.T) {
	r := &fakeRunner{}
	f := NewFirewallManager(r, "", zap.NewNop())

	require.NoError(t, f.BlockOutbound(context.Background()))

	assert.NotEmpty(t, r.containing("name="+ruleAllowAgent+" dir=out"))
	assert.NotEmpty(t, r.containing("protocol=UDP remoteport=53"))
	assert.NotEmpty(t, r.containing("remoteip="+lanRanges))
	// No backend host, no backend rule.
	assert.Empty(t, r.containing("name="+ruleAllowBackend+" dir=out"))
}

// TestBlockOutbound_AddRuleFailure verifies the policy never flips when an
// allow rule cannot be installed
func TestBlockOutbound_AddRuleFailure(t *testing.T) {
	r := &fakeRunner{errOn: "name=" + ruleAllowDNS + " dir=out", runErr: errors.New("netsh failed")}
	f := NewFirewallManager(r, "", zap.NewNop())

	err := f.BlockOutbound(context.Background())

	require.Error(t, err)
	assert.False(t, f.IsBlocked())
	assert.Empty(t, r.containing("blockinbound,blockoutbound"))
}

// TestUnblockOutbound_RestoresCleanState verifies unblock restores the
// default policy and deletes every agent rule
func TestUnblockOutbound_RestoresCleanState(t *testing.T) {
	r := &fakeRunner{}
	f := NewFirewallManager(r, "203.0.113.10", zap.NewNop())
	require.NoError(t, f.BlockOutbound(context.Background()))

	require.NoError(t, f.UnblockOutbound(context.Background()))

	assert.False(t, f.IsBlocked())
	assert.NotEmpty(t, r.containing("blockinbound,allowoutbound"))
	for _, name := range []string{ruleAllowAgent, ruleAllowDNS, ruleAllowLAN, ruleAllowBackend} {
		assert.NotEmpty(t, r.containing("delete rule name="+name))
	}
}

// TestIsBlocked_SeesBlockLeftByPreviousRun verifies the first query reads
// the live policy, so a deny-all state from before a crash is detected
func TestIsBlocked_SeesBlockLeftByPreviousRun(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"show allprofiles firewallpolicy": "Firewall Policy BlockInbound,BlockOutbound",
	}}
	f := NewFirewallManager(r, "", zap.NewNop())

	assert.True(t, f.IsBlocked())
	assert.True(t, f.IsBlocked())
	// One policy read, then the cached answer.
	assert.Len(t, r.containing("show allprofiles firewallpolicy"), 1)
}

// TestIsBlocked_CleanPolicyReadsUnblocked verifies a default-allow policy
// reads as not blocked
func TestIsBlocked_CleanPolicyReadsUnblocked(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"show allprofiles firewallpolicy": "Firewall Policy BlockInbound,AllowOutbound",
	}}
	f := NewFirewallManager(r, "", zap.NewNop())

	assert.False(t, f.IsBlocked())
}

// TestIsBlocked_PolicyReadFailureAssumesUnblocked verifies a failed read falls
// back to not blocked instead of erroring
func TestIsBlocked_PolicyReadFailureAssumesUnblocked(t *testing.T) {
	r := &fakeRunner{errOn: "show allprofiles", runErr: errors.New("netsh failed")}
	f := NewFirewallManager(r, "", zap.NewNop())

	assert.False(t, f.IsBlocked())
}

// TestBlockOutbound_Idempotent verifies reapplying removes stale rules first
func TestBlockOutbound_Idempotent(t *testing.T) {
	r := &fakeRunner{}
	f := NewFirewallManager(r, "", zap.NewNop())

	require.NoError(t, f.BlockOutbound(context.Background()))
	require.NoError(t, f.BlockOutbound(context.Background()))

	deletes := r.containing("delete rule name=" + ruleAllowAgent)
	assert.Len(t, deletes, 2)
}
