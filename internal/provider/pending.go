package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

type pendingRequest struct {
	id      string
	message string
}

// Pending tracks in-flight requests and publishes their descriptions on
// every change.
type Pending struct {
	mu       sync.Mutex
	requests []pendingRequest
	pub      events.Publisher
	log      zerolog.Logger
}

func NewPending(pub events.Publisher) *Pending {
	return &Pending{pub: pub, log: logging.WithComponent("pending")}
}

// Add records a request and returns its id.
func (p *Pending) Add(message string) string {
	id := uuid.NewString()
	p.mu.Lock()
	p.requests = append(p.requests, pendingRequest{id: id, message: message})
	p.publishLocked()
	p.mu.Unlock()
	return id
}

// Remove forgets a request.
func (p *Pending) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.requests {
		if r.id == id {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			break
		}
	}
	p.publishLocked()
}

// List returns the descriptions of the in-flight requests, oldest first.
func (p *Pending) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked()
}

func (p *Pending) listLocked() []string {
	out := make([]string, len(p.requests))
	for i, r := range p.requests {
		out[i] = r.message
	}
	return out
}

// publishLocked runs with mu held so subscribers see changes in order.
func (p *Pending) publishLocked() {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(context.Background(), events.Message{
		Channel: events.ChannelPendingRequests,
		Payload: p.listLocked(),
	}); err != nil {
		p.log.Warn().Err(err).Msg("Failed to publish pending requests")
	}
}
