// Package transaction implements the transaction tracker: registered
// expectations over inbound messages, reaped by the supervisor when solved
// or expired.
package transaction

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ratio1/ratio1-sdk/internal/envelope"
)

// Outcome is a matcher's verdict on one inbound envelope.
type Outcome int

const (
	Pending Outcome = iota
	Matched
	Rejected
)

// Matcher decides whether an inbound envelope satisfies one of a
// transaction's required responses. Represented as a small interface rather
// than an open-coded callback, so tests can plug deterministic matchers.
type Matcher interface {
	Offer(env *envelope.Envelope) Outcome
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(env *envelope.Envelope) Outcome

// Offer implements Matcher.
func (f MatcherFunc) Offer(env *envelope.Envelope) Outcome { return f(env) }

// Status is a transaction's lifecycle position.
type Status int

const (
	StatusPending Status = iota
	StatusSolved
	StatusFailed
	StatusExpired
)

// Transaction correlates one or more inbound messages against a deadline,
// firing exactly one of its success or failure callback.
type Transaction struct {
	ID        string
	SessionID string
	Deadline  time.Time

	OnSuccess func(t *Transaction)
	OnFailure func(t *Transaction)

	mu        sync.Mutex
	required  []Matcher
	satisfied []bool
	status    Status
}

// New registers a transaction requiring every matcher in required to match
// before the deadline.
func New(sessionID string, required []Matcher, deadline time.Time, onSuccess, onFailure func(t *Transaction)) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Deadline:  deadline,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
		required:  required,
		satisfied: make([]bool, len(required)),
		status:    StatusPending,
	}
}

// Offer presents an inbound envelope to every unsatisfied matcher. Once
// every matcher has matched, the transaction transitions to solved.
func (t *Transaction) Offer(env *envelope.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return
	}
	for i, m := range t.required {
		if t.satisfied[i] {
			continue
		}
		if m.Offer(env) == Matched {
			t.satisfied[i] = true
		}
	}
	if t.allSatisfiedLocked() {
		t.status = StatusSolved
	}
}

func (t *Transaction) allSatisfiedLocked() bool {
	for _, s := range t.satisfied {
		if !s {
			return false
		}
	}
	return true
}

// Status returns the current transaction status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Finished reports whether the transaction has left the pending state.
func (t *Transaction) Finished() bool {
	s := t.Status()
	return s != StatusPending
}

// Tracker owns the open-transactions list under a dedicated lock, separate
// from the directory's lock, per the concurrency model.
type Tracker struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{transactions: make(map[string]*Transaction)}
}

// Register adds t to the open-transactions list.
func (tr *Tracker) Register(t *Transaction) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.transactions[t.ID] = t
}

// Offer presents env to every open transaction.
func (tr *Tracker) Offer(env *envelope.Envelope) {
	tr.mu.Lock()
	snapshot := make([]*Transaction, 0, len(tr.transactions))
	for _, t := range tr.transactions {
		snapshot = append(snapshot, t)
	}
	tr.mu.Unlock()

	for _, t := range snapshot {
		t.Offer(env)
	}
}

// Sweep implements the supervisor's periodic reap, per §4.9: snapshot the
// list under the lock, then fire callbacks outside the lock and remove
// finished transactions.
func (tr *Tracker) Sweep(now time.Time) {
	tr.mu.Lock()
	var toRemove []string
	var toFire []*Transaction
	for id, t := range tr.transactions {
		t.mu.Lock()
		if t.status == StatusPending && now.After(t.Deadline) {
			t.status = StatusExpired
		}
		status := t.status
		t.mu.Unlock()

		if status == StatusSolved || status == StatusExpired || status == StatusFailed {
			toRemove = append(toRemove, id)
			toFire = append(toFire, t)
		}
	}
	for _, id := range toRemove {
		delete(tr.transactions, id)
	}
	tr.mu.Unlock()

	for _, t := range toFire {
		switch t.Status() {
		case StatusSolved:
			if t.OnSuccess != nil {
				t.OnSuccess(t)
			}
		case StatusExpired, StatusFailed:
			if t.OnFailure != nil {
				t.OnFailure(t)
			}
		}
	}
}

// Open returns the number of transactions still in the open list: pending
// ones, plus finished ones that Sweep has not reaped yet.
func (tr *Tracker) Open() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.transactions)
}

// WaitFor blocks, polling every pollInterval, until every transaction in ts
// is Finished or timeout elapses. It never holds the tracker lock while
// polling.
func WaitFor(ts []*Transaction, pollInterval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		done := true
		for _, t := range ts {
			if !t.Finished() {
				done = false
				break
			}
		}
		if done {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// WaitForAnySet blocks until at least one of the transaction sets in sets is
// entirely finished, or timeout elapses.
func WaitForAnySet(sets [][]*Transaction, pollInterval, timeout time.Duration) ([]*Transaction, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, set := range sets {
			allDone := true
			for _, t := range set {
				if !t.Finished() {
					allDone = false
					break
				}
			}
			if allDone {
				return set, true
			}
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(pollInterval)
	}
}

// WaitForAllSets blocks until every transaction in every set in sets is
// finished, or timeout elapses.
func WaitForAllSets(sets [][]*Transaction, pollInterval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		allDone := true
		for _, set := range sets {
			for _, t := range set {
				if !t.Finished() {
					allDone = false
					break
				}
			}
			if !allDone {
				break
			}
		}
		if allDone {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
