package presence

import (
	"sort"
	"sync"

	"resonance-chat/internal/models"
	"resonance-chat/internal/observability"
)

// Handle is one live client connection.
type Handle interface {
	// ID is unique per connection, including reconnects of the same user.
	ID() string
	// Push enqueues a signal without blocking; false means it was dropped.
	Push(sig models.Signal) bool
	Close()
}

// Registry maps each user to at most one live connection.
// The last connection to register for a user wins. Presence changes go to
// every subscribed connection, bound or not.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]Handle
	subscribers map[string]Handle
	out         *Broadcaster
}

// NewRegistry creates an empty registry that announces membership changes
// through out. A nil out disables presence broadcasts.
func NewRegistry(out *Broadcaster) *Registry {
	return &Registry{
		entries:     make(map[string]Handle),
		subscribers: make(map[string]Handle),
		out:         out,
	}
}

// Subscribe adds h to the set of connections told about presence changes.
func (r *Registry) Subscribe(h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.subscribers[h.ID()] = h
	r.mu.Unlock()
}

func (r *Registry) Unsubscribe(h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	delete(r.subscribers, h.ID())
	r.mu.Unlock()
}

// Register binds userID to h, replacing any previous handle, and tells every
// other connection the user is online. Empty ids and nil handles are ignored.
func (r *Registry) Register(userID string, h Handle) {
	if userID == "" || h == nil {
		return
	}
	r.mu.Lock()
	r.entries[userID] = h
	peers := r.peersLocked(h)
	size := len(r.entries)
	r.mu.Unlock()

	observability.SetRegistrySize(size)
	r.out.Publish(peers, models.Signal{Type: models.SignalOnline, Payload: models.PresencePayload{UserID: userID}})
}

// Unregister removes userID only while h is still the bound handle. A stale
// handle from a superseded connection leaves the entry alone.
func (r *Registry) Unregister(userID string, h Handle) bool {
	if userID == "" || h == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.entries[userID]
	if !ok || cur.ID() != h.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, userID)
	peers := r.peersLocked(h)
	size := len(r.entries)
	r.mu.Unlock()

	observability.SetRegistrySize(size)
	r.out.Publish(peers, models.Signal{Type: models.SignalOffline, Payload: models.PresencePayload{UserID: userID}})
	return true
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[userID]
	return h, ok
}

// Online returns the registered user ids in lexical order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CloseAll empties the registry and closes every handle without broadcasting.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	r.entries = make(map[string]Handle)
	r.subscribers = make(map[string]Handle)
	r.mu.Unlock()

	observability.SetRegistrySize(0)
	for _, h := range handles {
		h.Close()
	}
}

// peersLocked snapshots every subscribed or bound handle except exclude.
func (r *Registry) peersLocked(exclude Handle) []Handle {
	seen := make(map[string]struct{}, len(r.subscribers)+len(r.entries))
	seen[exclude.ID()] = struct{}{}
	peers := make([]Handle, 0, len(r.subscribers)+len(r.entries))
	for _, set := range []map[string]Handle{r.subscribers, r.entries} {
		for _, h := range set {
			if _, dup := seen[h.ID()]; dup {
				continue
			}
			seen[h.ID()] = struct{}{}
			peers = append(peers, h)
		}
	}
	return peers
}
