package ledger

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle wraps c so that every call first waits on limiter.
// A nil limiter returns c unchanged.
func Throttle(c Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return c
	}
	return &throttledClient{next: c, limiter: limiter}
}

type throttledClient struct {
	next    Client
	limiter *rate.Limiter
}

func (t *throttledClient) LatestHeight(ctx context.Context) (uint64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.next.LatestHeight(ctx)
}

func (t *throttledClient) Submit(ctx context.Context, appID AppID, data []byte) (uint64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.next.Submit(ctx, appID, data)
}

func (t *throttledClient) Fetch(ctx context.Context, height uint64, appID AppID) ([][]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Fetch(ctx, height, appID)
}
