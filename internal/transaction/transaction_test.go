package transaction

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ratio1/ratio1-sdk/internal/envelope"
)

func neverMatches() Matcher {
	return MatcherFunc(func(env *envelope.Envelope) Outcome { return Pending })
}

func TestTransactionTimeoutFiresFailureOnce(t *testing.T) {
	tracker := NewTracker()
	var failures int32
	tx := New("sess-1", []Matcher{neverMatches()}, time.Now().Add(1*time.Second),
		func(t *Transaction) {},
		func(t *Transaction) { atomic.AddInt32(&failures, 1) },
	)
	tracker.Register(tx)

	require.Eventually(t, func() bool {
		tracker.Sweep(time.Now())
		return atomic.LoadInt32(&failures) == 1
	}, 1200*time.Millisecond, 20*time.Millisecond)

	require.Equal(t, 0, tracker.Open())

	tracker.Sweep(time.Now())
	require.Equal(t, int32(1), atomic.LoadInt32(&failures))
}

func TestTransactionSolvedFiresSuccess(t *testing.T) {
	tracker := NewTracker()
	var solved int32
	matcher := MatcherFunc(func(env *envelope.Envelope) Outcome { return Matched })
	tx := New("sess-1", []Matcher{matcher}, time.Now().Add(time.Minute),
		func(t *Transaction) { atomic.AddInt32(&solved, 1) },
		func(t *Transaction) {},
	)
	tracker.Register(tx)
	tracker.Offer(&envelope.Envelope{})
	tracker.Sweep(time.Now())

	require.Equal(t, int32(1), atomic.LoadInt32(&solved))
	require.Equal(t, 0, tracker.Open())
}

func TestWaitForReturnsFalseWhenTimeoutElapses(t *testing.T) {
	tx := New("sess-1", []Matcher{neverMatches()}, time.Now().Add(100*time.Millisecond), nil, nil)
	done := WaitFor([]*Transaction{tx}, 10*time.Millisecond, 50*time.Millisecond)
	require.False(t, done)
}

func solvedTx() *Transaction {
	matcher := MatcherFunc(func(env *envelope.Envelope) Outcome { return Matched })
	tx := New("sess-1", []Matcher{matcher}, time.Now().Add(time.Minute), nil, nil)
	tx.Offer(&envelope.Envelope{})
	return tx
}

func neverSolvedTx() *Transaction {
	return New("sess-1", []Matcher{neverMatches()}, time.Now().Add(time.Minute), nil, nil)
}

func TestWaitForAnySetReturnsFirstFinishedSet(t *testing.T) {
	sets := [][]*Transaction{
		{neverSolvedTx()},
		{solvedTx(), solvedTx()},
	}
	winner, ok := WaitForAnySet(sets, 10*time.Millisecond, 100*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, sets[1], winner)
}

func TestWaitForAnySetTimesOutWhenNoSetFinishes(t *testing.T) {
	sets := [][]*Transaction{{neverSolvedTx()}, {neverSolvedTx()}}
	_, ok := WaitForAnySet(sets, 10*time.Millisecond, 50*time.Millisecond)
	require.False(t, ok)
}

func TestWaitForAllSetsRequiresEverySetFinished(t *testing.T) {
	sets := [][]*Transaction{{solvedTx()}, {solvedTx(), solvedTx()}}
	require.True(t, WaitForAllSets(sets, 10*time.Millisecond, 100*time.Millisecond))

	sets = [][]*Transaction{{solvedTx()}, {neverSolvedTx()}}
	require.False(t, WaitForAllSets(sets, 10*time.Millisecond, 50*time.Millisecond))
}
