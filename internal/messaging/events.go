package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// eventChannels holds the receipt and response channels shared by the services.
// Emits after close are dropped.
type eventChannels struct {
	name      string
	mu        sync.RWMutex
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func (e *eventChannels) init(name string) {
	e.name = name
	e.receipts = make(chan models.Receipt, DefaultChannelBufferSize)
	e.responses = make(chan models.Response, DefaultChannelBufferSize)
}

func (e *eventChannels) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

// close marks the channels stopped and closes them. It reports false if they
// were already closed.
func (e *eventChannels) close() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.stopped = true
	close(e.receipts)
	close(e.responses)
	return true
}

func (e *eventChannels) emitReceipt(r models.Receipt) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+".emitReceipt: receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (e *eventChannels) emitResponse(r models.Response) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn(e.name+".emitResponse: service stopped, dropping message", "from", r.From)
		return
	}
	select {
	case e.responses <- r:
		slog.Debug(e.name+".emitResponse: inbound message forwarded", "from", r.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+".emitResponse: responses channel blocked, dropping message", "from", r.From)
	}
}

// Receipts returns a channel of delivery events.
func (e *eventChannels) Receipts() <-chan models.Receipt {
	return e.receipts
}

// Responses returns a channel of inbound user messages.
func (e *eventChannels) Responses() <-chan models.Response {
	return e.responses
}
