package notify

import (
	"context"
	"sync"
	"time"
)

// PollingSource is the degraded-mode fallback when no push channel is
// available: it fires the handler for every subscribed table on a fixed
// interval, which makes the consumer re-query unconditionally. Correct but
// wasteful, which is acceptable for a fallback.
type PollingSource struct {
	Interval time.Duration
}

func NewPollingSource(interval time.Duration) *PollingSource {
	return &PollingSource{Interval: interval}
}

func (p *PollingSource) Subscribe(ctx context.Context, tables []string, h Handler) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &pollingSubscription{cancel: cancel}

	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				for _, t := range tables {
					h(t)
				}
			}
		}
	}()

	return sub, nil
}

type pollingSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *pollingSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
