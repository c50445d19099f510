package session

import "time"

const (
	reconnectInitialBackoff = 500 * time.Millisecond
	reconnectMaxBackoff     = 30 * time.Second
)

// supervisorLoop implements §4.10: on every tick, reconnect the broker with
// bounded exponential backoff if disconnected, and reap solved/expired
// transactions. On Close it stops ticking.
func (s *Session) supervisorLoop() {
	ticker := time.NewTicker(supervisorTick)
	defer ticker.Stop()

	backoff := reconnectInitialBackoff
	nextReconnectAttempt := time.Time{}

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if s.broker != nil && !s.broker.Connected() {
				if now.Before(nextReconnectAttempt) {
					continue
				}
				if err := s.broker.Connect(); err != nil {
					s.logger.Printf("ratio1-sdk[session]: reconnect failed: %v", err)
					nextReconnectAttempt = now.Add(backoff)
					backoff *= 2
					if backoff > reconnectMaxBackoff {
						backoff = reconnectMaxBackoff
					}
				} else {
					backoff = reconnectInitialBackoff
					nextReconnectAttempt = time.Time{}
				}
			}
			s.tracker.Sweep(now)
		}
	}
}
