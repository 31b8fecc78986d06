package sendprovider

import (
	"context"
	"fmt"
	"sync/atomic"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Pool selects a healthy provider round-robin for each send. Retry policy
// lives with the caller (the scheduler wraps Send in the bounded executor);
// the pool only does selection and breaker accounting.
type Pool struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
}

func NewPool(provs []Provider) *Pool {
	return &Pool{providers: provs}
}

func (p *Pool) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(p.providers))
	for _, prov := range p.providers {
		if prov.Ready() {
			healthy = append(healthy, prov)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := p.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (p *Pool) Send(ctx context.Context, req SendRequest) error {
	prov, err := p.selectProvider()
	if err != nil {
		return err
	}

	if !prov.Acquire() {
		return ErrNoAcquire
	}

	return prov.Send(ctx, req)
}
