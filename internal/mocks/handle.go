package mocks

import (
	"sync"

	"resonance-chat/internal/models"
)

// Handle records pushed signals in memory. Full makes Push report a drop.
type Handle struct {
	id string

	mu      sync.Mutex
	signals []models.Signal
	full    bool
	closed  bool
}

func NewHandle(id string) *Handle {
	return &Handle{id: id}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Push(sig models.Signal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full || h.closed {
		return false
	}
	h.signals = append(h.signals, sig)
	return true
}

func (h *Handle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *Handle) SetFull(full bool) {
	h.mu.Lock()
	h.full = full
	h.mu.Unlock()
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Signals returns a copy of everything pushed so far.
func (h *Handle) Signals() []models.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Signal, len(h.signals))
	copy(out, h.signals)
	return out
}

// OfType filters Signals by type.
func (h *Handle) OfType(t models.SignalType) []models.Signal {
	var out []models.Signal
	for _, s := range h.Signals() {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}
