package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ratio1/ratio1-sdk/internal/broker"
	"github.com/Ratio1/ratio1-sdk/internal/envelope"
)

// TestFilterWorkersDropsUnlistedSender is scenario S5: with filter_workers
// restricted to a single address, payloads from a different sender never
// reach the user callback, and payloads from the listed sender do.
func TestFilterWorkersDropsUnlistedSender(t *testing.T) {
	allowed := "0xai1ALLOWED"
	var calls int32

	s, b, _ := newTestSession(t,
		WithFilterWorkers([]string{allowed}),
		OnData(func(sess *Session, nodeAddress, pipelineName, signature, instance string, body map[string]any) {
			atomic.AddInt32(&calls, 1)
		}),
	)
	require.NoError(t, s.Startup(context.Background()))
	defer s.Close(false, true)

	topic := broker.Topic(broker.ChannelPayloads, "lummetry")

	blocked := jsonFrame(map[string]any{
		envelope.FieldSender:      "0xai1BLOCKED",
		envelope.FieldIsEncrypted: false,
		envelope.FieldPayloadPath: []string{"", "some_pipeline", "SIG", "inst"},
		"DATA":                    "from-blocked",
	})
	b.inject(topic, blocked)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))

	permitted := jsonFrame(map[string]any{
		envelope.FieldSender:      allowed,
		envelope.FieldIsEncrypted: false,
		envelope.FieldPayloadPath: []string{"", "some_pipeline", "SIG", "inst"},
		"DATA":                    "from-allowed",
	})
	b.inject(topic, permitted)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)
}
