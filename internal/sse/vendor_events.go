package sse

import (
	"context"
	"encoding/json"
	"sync"

	"ms-marketplace/internal/notify"
)

// Event is one message on a vendor's live stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// VendorEventEmitter fans notifications out to vendors connected over SSE.
// Delivery is best effort; a client that falls behind misses events.
type VendorEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan Event
}

func NewVendorEventEmitter() *VendorEventEmitter {
	return &VendorEventEmitter{clients: make(map[string][]chan Event)}
}

// Subscribe registers a client until ctx is done, then closes its channel.
func (e *VendorEventEmitter) Subscribe(ctx context.Context, vendorID string) <-chan Event {
	ch := make(chan Event, 16)

	e.mu.Lock()
	e.clients[vendorID] = append(e.clients[vendorID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(vendorID, ch)
	}()
	return ch
}

// Emit sends under the read lock so remove cannot close a channel mid-send.
func (e *VendorEventEmitter) Emit(vendorID string, ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.clients[vendorID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Publish lets the emitter sit beside the Kafka notifier. Events that do not
// concern a vendor are ignored.
func (e *VendorEventEmitter) Publish(_ context.Context, event, _ string, payload interface{}) error {
	vendorID := vendorOf(payload)
	if vendorID == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e.Emit(vendorID, Event{Type: event, Data: raw})
	return nil
}

func vendorOf(payload interface{}) string {
	switch p := payload.(type) {
	case notify.VendorAlert:
		return p.VendorID
	case notify.StatusChanged:
		return p.VendorID
	case notify.EscrowReleased:
		return p.VendorID
	case notify.PayoutEvent:
		return p.VendorID
	case notify.VendorReviewed:
		return p.VendorID
	}
	return ""
}

func (e *VendorEventEmitter) remove(vendorID string, ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[vendorID]
	for i, c := range clients {
		if c == ch {
			e.clients[vendorID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[vendorID]) == 0 {
		delete(e.clients, vendorID)
	}
}

// ClientCount returns the number of clients currently subscribed to a vendor
func (e *VendorEventEmitter) ClientCount(vendorID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[vendorID])
}
