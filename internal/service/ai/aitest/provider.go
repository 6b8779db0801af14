// Package aitest provides a scripted completion provider for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/threadloom/backend/internal/model/chat"
)

// Provider replays scripted chunks. It records every history it is
// called with so tests can assert on the context handed to the model.
type Provider struct {
	// Chunks are emitted in order, one stream message each.
	Chunks []string
	// Err fails the Complete call itself.
	Err error
	// StreamErr terminates the stream with an error after Chunks.
	StreamErr error
	// Started, when non-nil, receives one value per Complete call
	// before any chunk is emitted.
	Started chan struct{}
	// Gate, when non-nil, blocks the stream until a value arrives or
	// the context is cancelled.
	Gate chan struct{}

	mu        sync.Mutex
	histories [][]chat.Message
}

// Complete implements ai.Provider.
func (p *Provider) Complete(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	copied := make([]chat.Message, len(history))
	copy(copied, history)
	p.mu.Lock()
	p.histories = append(p.histories, copied)
	p.mu.Unlock()

	if p.Started != nil {
		select {
		case p.Started <- struct{}{}:
		default:
		}
	}

	if p.Err != nil {
		return nil, p.Err
	}

	sr, sw := schema.Pipe[*schema.Message](len(p.Chunks) + 1)
	go func() {
		defer sw.Close()

		if p.Gate != nil {
			select {
			case <-p.Gate:
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			}
		}

		for _, chunk := range p.Chunks {
			select {
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			default:
			}
			if closed := sw.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}

		if p.StreamErr != nil {
			sw.Send(nil, p.StreamErr)
		}
	}()
	return sr, nil
}

// Calls reports how many times Complete was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.histories)
}

// Histories returns a copy of every recorded call context.
func (p *Provider) Histories() [][]chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]chat.Message, len(p.histories))
	copy(out, p.histories)
	return out
}
