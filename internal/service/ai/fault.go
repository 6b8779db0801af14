package ai

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/threadloom/backend/internal/model/chat"
)

// ErrInjectedFailure marks a synthetic provider failure.
var ErrInjectedFailure = errors.New("injected provider failure")

// FaultyProvider fails a configured fraction of completion requests
// before they reach the wrapped provider. The rate and seed come from
// explicit configuration, never ambient process state, so failure-path
// behavior stays deterministic under test.
type FaultyProvider struct {
	inner Provider
	rate  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaultyProvider wraps inner. A rate <= 0 never fails; >= 1 always
// fails.
func NewFaultyProvider(inner Provider, rate float64, seed int64) *FaultyProvider {
	return &FaultyProvider{
		inner: inner,
		rate:  rate,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Complete rolls the failure dice, then delegates.
func (p *FaultyProvider) Complete(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if p.roll() {
		return nil, ErrInjectedFailure
	}
	return p.inner.Complete(ctx, history)
}

func (p *FaultyProvider) roll() bool {
	if p.rate <= 0 {
		return false
	}
	if p.rate >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.rate
}

var _ Provider = (*FaultyProvider)(nil)
