package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatMonotonicLastSeen(t *testing.T) {
	d := New("self", 60*time.Second)
	t0 := time.Now()
	d.ObserveHeartbeat("n1", "alias1", "0xabc", map[string]any{}, true, []string{"self"}, t0)
	n, ok := d.Node("n1")
	require.True(t, ok)
	ls1 := n.LastSeen

	t1 := t0.Add(1 * time.Second)
	d.ObserveHeartbeat("n1", "alias1", "0xabc", map[string]any{}, true, []string{"self"}, t1)
	n2, _ := d.Node("n1")
	require.True(t, !n2.LastSeen.Before(ls1))
}

func TestAllowedNodesSubsetOfActiveNodes(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	d.ObserveHeartbeat("n1", "alias1", "0xabc", nil, true, []string{"self"}, now)
	d.ObserveHeartbeat("n2", "alias2", "0xdef", nil, true, []string{"someone-else"}, now)

	active := d.ActiveNodes(now)
	allowed := d.AllowedNodes(now)

	require.Contains(t, active, "n1")
	require.Contains(t, active, "n2")
	require.Contains(t, allowed, "n1")
	require.NotContains(t, allowed, "n2")
	for _, a := range allowed {
		require.Contains(t, active, a)
	}
}

func TestEthAddressFirstWriterWins(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	d.ObserveHeartbeat("n1", "alias1", "0xfirst", nil, false, nil, now)
	d.ObserveHeartbeat("n1", "alias1-renamed", "0xsecond", nil, false, nil, now)

	n, _ := d.Node("n1")
	require.Equal(t, "0xfirst", n.EthAddress)
	require.Equal(t, "alias1-renamed", n.Alias)
}

func TestNeedsNetconfigRequestCooldown(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	d.ObserveHeartbeat("n1", "alias1", "0xabc", nil, true, []string{"self"}, now)

	require.True(t, d.NeedsNetconfigRequest("n1", 300*time.Second, now))
	d.MarkNetconfigRequested("n1", now)
	require.False(t, d.NeedsNetconfigRequest("n1", 300*time.Second, now.Add(100*time.Second)))
	require.True(t, d.NeedsNetconfigRequest("n1", 300*time.Second, now.Add(301*time.Second)))
}

func TestIngestConfigSuppressesFurtherRequests(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	d.ObserveHeartbeat("n1", "alias1", "0xabc", nil, true, []string{"self"}, now)
	require.True(t, d.NeedsNetconfigRequest("n1", 300*time.Second, now))

	d.IngestConfig("n1", []PipelineConfig{{Name: "P1"}}, nil)
	require.False(t, d.NeedsNetconfigRequest("n1", 300*time.Second, now))
}

func TestUnauthorizedRuleSelfAlwaysAllowed(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	d.ObserveHeartbeat("self", "me", "0xme", nil, true, nil, now)
	n, _ := d.Node("self")
	require.True(t, n.Authorized)
}

// TestNetmonEntryDefaultsUnsecuredAuthorized matches
// __track_allowed_node_by_netmon's resolution: a netmon entry with no
// secured field present is treated as not secured, and therefore
// authorized regardless of whitelist membership.
func TestNetmonEntryDefaultsUnsecuredAuthorized(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	n, _ := d.ApplyNetmonEntry(NetmonEntry{
		Address:   "peer1",
		Online:    true,
		Whitelist: []string{"someone-else"},
	}, now)
	require.False(t, n.Secured)
	require.True(t, n.Authorized)
}

// TestNetmonEntrySecuredRequiresWhitelist confirms that an entry explicitly
// marked secured still needs self in its whitelist (or self-match) to be
// authorized, exactly like the heartbeat path.
func TestNetmonEntrySecuredRequiresWhitelist(t *testing.T) {
	d := New("self", 60*time.Second)
	now := time.Now()
	n, _ := d.ApplyNetmonEntry(NetmonEntry{
		Address:   "peer1",
		Online:    true,
		Secured:   true,
		Whitelist: []string{"someone-else"},
	}, now)
	require.True(t, n.Secured)
	require.False(t, n.Authorized)

	n2, _ := d.ApplyNetmonEntry(NetmonEntry{
		Address:   "peer2",
		Online:    true,
		Secured:   true,
		Whitelist: []string{"self"},
	}, now)
	require.True(t, n2.Authorized)
}
