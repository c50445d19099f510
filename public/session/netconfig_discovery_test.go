package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
	"github.com/Ratio1/ratio1-sdk/public/identity"
)

// TestNetmonSnapshotTriggersSingleNetconfigRequest is scenario S1: a netmon
// snapshot announcing an online, self-whitelisted peer makes that peer
// active and allowed, and results in exactly one net-config request
// addressed to it.
func TestNetmonSnapshotTriggersSingleNetconfigRequest(t *testing.T) {
	s, b, self := newTestSession(t)
	require.NoError(t, s.Startup(context.Background()))
	defer s.Close(false, true)

	supervisor := "0xai1SUPERVISOR"
	peerIdentity, err := identity.Generate()
	require.NoError(t, err)
	peer := peerIdentity.Address()

	frame := netmonFrame(self.Address(), supervisor, peer, "peer-1-alias", true, []string{self.Address()})
	b.inject(broker.Topic(broker.ChannelPayloads, "lummetry"), frame)

	require.Eventually(t, func() bool {
		active := s.GetActiveNodes()
		allowed := s.GetAllowedNodes()
		return contains(active, peer) && contains(allowed, peer)
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(b.publishedOn(broker.Topic(broker.ChannelCtrl, "lummetry"))) == 1
	}, time.Second, 5*time.Millisecond)

	published := b.publishedOn(broker.Topic(broker.ChannelCtrl, "lummetry"))
	require.Len(t, published, 1)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(published[0], &wire))
	require.Equal(t, []any{peer}, wire[envelope.FieldDestination])
	require.Equal(t, true, wire[envelope.FieldIsEncrypted])

	// A second identical snapshot within the cooldown must not emit another
	// request.
	b.inject(broker.Topic(broker.ChannelPayloads, "lummetry"), frame)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, b.publishedOn(broker.Topic(broker.ChannelCtrl, "lummetry")), 1)
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if v == needle {
			return true
		}
	}
	return false
}

// TestFirstPeerNoticeDistinctFromNetmonGate confirms that the one-shot
// "first peer reached" notice only fires once an entry actually authorizes
// this Session, not merely on receipt of any network-monitor message —
// the two signals are observably different.
func TestFirstPeerNoticeDistinctFromNetmonGate(t *testing.T) {
	var notified string
	s, b, self := newTestSession(t, OnFirstPeer(func(sess *Session, nodeAddress string) {
		notified = nodeAddress
	}))
	require.NoError(t, s.Startup(context.Background()))
	defer s.Close(false, true)

	supervisor := "0xai1SUPERVISOR"
	unauthorized, err := identity.Generate()
	require.NoError(t, err)
	authorized, err := identity.Generate()
	require.NoError(t, err)

	// A snapshot naming only a secured peer that does not whitelist self
	// satisfies Startup's liveness gate but must not fire the first-peer
	// notice.
	blocked := netmonFrameSecured(self.Address(), supervisor, unauthorized.Address(), "blocked-alias", true, true, []string{"someone-else"})
	b.inject(broker.Topic(broker.ChannelPayloads, "lummetry"), blocked)

	select {
	case <-s.netmonReceivedCh:
	case <-time.After(time.Second):
		t.Fatal("netmon-received gate never fired")
	}

	select {
	case <-s.FirstPeerReached():
		t.Fatal("first-peer notice fired for an unauthorized-only snapshot")
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, notified)

	// A second snapshot naming an authorized peer fires the first-peer
	// notice exactly once, carrying that peer's address.
	allowed := netmonFrame(self.Address(), supervisor, authorized.Address(), "allowed-alias", true, []string{self.Address()})
	b.inject(broker.Topic(broker.ChannelPayloads, "lummetry"), allowed)

	select {
	case <-s.FirstPeerReached():
	case <-time.After(time.Second):
		t.Fatal("first-peer notice never fired for an authorized snapshot")
	}
	require.Equal(t, authorized.Address(), notified)
}
