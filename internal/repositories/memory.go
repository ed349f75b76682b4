package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"resonance-chat/internal/models"
)

// MemoryMessageRepo keeps messages in process memory. It backs the memory store
// driver and tests; contents are lost on restart.
type MemoryMessageRepo struct {
	mu   sync.RWMutex
	msgs []models.Message
	seq  int64
	now  func() time.Time
}

// NewMemoryMessageRepo builds an empty repository. now may be nil.
func NewMemoryMessageRepo(now func() time.Time) *MemoryMessageRepo {
	if now == nil {
		now = time.Now
	}
	return &MemoryMessageRepo{now: now}
}

func (r *MemoryMessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, unavailable("append message", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	stored := models.Message{
		ID:         uuid.NewString(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Attachment: msg.Attachment,
		CreatedAt:  r.now().UTC(),
		Seq:        r.seq,
	}
	r.msgs = append(r.msgs, stored)
	return stored, nil
}

func (r *MemoryMessageRepo) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("history", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Message{}
	for _, m := range r.msgs {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, copyMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *MemoryMessageRepo) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("mark read", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	var count int64
	for i := range r.msgs {
		m := &r.msgs[i]
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead {
			readAt := now
			m.IsRead = true
			m.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (r *MemoryMessageRepo) Conversations(ctx context.Context, userID string) ([]models.ConversationGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("conversations", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	byCounterpart := map[string]*models.ConversationGroup{}
	var order []string
	for _, m := range r.msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		other := m.Counterpart(userID)
		g, ok := byCounterpart[other]
		if !ok {
			g = &models.ConversationGroup{CounterpartID: other, LastMessage: copyMessage(m)}
			byCounterpart[other] = g
			order = append(order, other)
		} else if newer(m, g.LastMessage) {
			g.LastMessage = copyMessage(m)
		}
		if m.ReceiverID == userID && !m.IsRead {
			g.UnreadCount++
		}
	}
	groups := make([]models.ConversationGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byCounterpart[id])
	}
	return groups, nil
}

func newer(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

func copyMessage(m models.Message) models.Message {
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		m.ReadAt = &readAt
	}
	return m
}

// MemoryUserRepo is the in-memory profile collection.
type MemoryUserRepo struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{profiles: make(map[string]models.UserProfile)}
}

func (r *MemoryUserRepo) CreateIfAbsent(ctx context.Context, p models.UserProfile) (models.UserProfile, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.profiles[p.UID]; ok {
		return existing, false, nil
	}
	p.CreatedAt = time.Now().UTC()
	r.profiles[p.UID] = p
	return p, true, nil
}

func (r *MemoryUserRepo) GetProfile(ctx context.Context, uid string) (models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[uid]
	if !ok {
		return models.UserProfile{}, ErrUserNotFound
	}
	return p, nil
}

func (r *MemoryUserRepo) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.UserProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *MemoryUserRepo) BulkProfiles(ctx context.Context, uids []string) ([]models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.UserProfile, 0, len(uids))
	for _, uid := range uids {
		if p, ok := r.profiles[uid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

var (
	_ MessageRepository = (*MessageRepo)(nil)
	_ MessageRepository = (*MemoryMessageRepo)(nil)
	_ UserRepository    = (*UserRepo)(nil)
	_ UserRepository    = (*MemoryUserRepo)(nil)
)
