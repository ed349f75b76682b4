package presence

import (
	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
	"resonance-chat/internal/observability"
)

// Broadcaster pushes presence changes to a snapshot of peers. Delivery is
// at most once; a peer whose buffer is full misses the update.
type Broadcaster struct{}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Publish returns how many peers accepted sig.
func (b *Broadcaster) Publish(peers []Handle, sig models.Signal) int {
	if b == nil {
		return 0
	}
	accepted := 0
	for _, h := range peers {
		if h.Push(sig) {
			accepted++
			continue
		}
		logger.Debugf("presence: dropped %s for conn %s", sig.Type, h.ID())
	}
	observability.IncPresenceBroadcast(string(sig.Type))
	return accepted
}
