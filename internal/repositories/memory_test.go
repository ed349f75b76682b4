package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resonance-chat/internal/models"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func frozenClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func send(t *testing.T, r *MemoryMessageRepo, from, to, text string) models.Message {
	t.Helper()
	m, err := r.Append(context.Background(), models.Message{SenderID: from, ReceiverID: to, Text: text})
	require.NoError(t, err)
	return m
}

func TestMemoryAppendAssignsIdentity(t *testing.T) {
	r := NewMemoryMessageRepo(nil)
	m1 := send(t, r, "u1", "u2", "hi")
	m2 := send(t, r, "u1", "u2", "hi")

	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.False(t, m1.IsRead)
	assert.Nil(t, m1.ReadAt)
	assert.False(t, m1.CreatedAt.IsZero())
}

func TestMemoryHistoryBothDirectionsOrdered(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewMemoryMessageRepo(clock.now)
	send(t, r, "u1", "u2", "one")
	send(t, r, "u2", "u1", "two")
	send(t, r, "u1", "u3", "elsewhere")
	send(t, r, "u1", "u2", "three")

	ab, err := r.History(context.Background(), "u1", "u2")
	require.NoError(t, err)
	ba, err := r.History(context.Background(), "u2", "u1")
	require.NoError(t, err)

	require.Len(t, ab, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{ab[0].Text, ab[1].Text, ab[2].Text})
	assert.Equal(t, ab, ba)
}

func TestMemoryHistoryTieBreaksOnInsertionOrder(t *testing.T) {
	r := NewMemoryMessageRepo(frozenClock())
	send(t, r, "u1", "u2", "a")
	send(t, r, "u2", "u1", "b")
	send(t, r, "u1", "u2", "c")

	msgs, err := r.History(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
	assert.Equal(t, "c", msgs[2].Text)
}

func TestMemoryHistoryUnknownPairIsEmpty(t *testing.T) {
	r := NewMemoryMessageRepo(nil)
	msgs, err := r.History(context.Background(), "ghost", "nobody")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestMemoryMarkReadIsDirectionalAndIdempotent(t *testing.T) {
	r := NewMemoryMessageRepo(nil)
	send(t, r, "u1", "u2", "x")
	send(t, r, "u1", "u2", "y")
	send(t, r, "u2", "u1", "z")

	n, err := r.MarkRead(context.Background(), "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = r.MarkRead(context.Background(), "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	msgs, err := r.History(context.Background(), "u1", "u2")
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == "u1" {
			assert.True(t, m.IsRead)
			assert.NotNil(t, m.ReadAt)
		} else {
			assert.False(t, m.IsRead, "reverse direction untouched")
			assert.Nil(t, m.ReadAt)
		}
	}
}

func TestMemoryConversationsGroupsByCounterpart(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewMemoryMessageRepo(clock.now)
	send(t, r, "u2", "u1", "from u2")
	send(t, r, "u3", "u1", "from u3 a")
	send(t, r, "u3", "u1", "from u3 b")
	send(t, r, "u1", "u2", "reply to u2")

	groups, err := r.Conversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	byID := map[string]models.ConversationGroup{}
	for _, g := range groups {
		byID[g.CounterpartID] = g
	}
	assert.Equal(t, "reply to u2", byID["u2"].LastMessage.Text)
	assert.Equal(t, 1, byID["u2"].UnreadCount)
	assert.Equal(t, "from u3 b", byID["u3"].LastMessage.Text)
	assert.Equal(t, 2, byID["u3"].UnreadCount)
}

func TestMemoryCancelledContextIsStoreUnavailable(t *testing.T) {
	r := NewMemoryMessageRepo(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Append(ctx, models.Message{SenderID: "u1", ReceiverID: "u2", Text: "x"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemoryUserRepo(t *testing.T) {
	r := NewMemoryUserRepo()
	ctx := context.Background()

	p, created, err := r.CreateIfAbsent(ctx, models.UserProfile{UID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Ann", p.DisplayName)

	p, created, err = r.CreateIfAbsent(ctx, models.UserProfile{UID: "u1", DisplayName: "Other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ann", p.DisplayName)

	_, err = r.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, _, err = r.CreateIfAbsent(ctx, models.UserProfile{UID: "u0", DisplayName: "Bo"})
	require.NoError(t, err)
	all, err := r.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "u0", all[0].UID)

	bulk, err := r.BulkProfiles(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	require.Len(t, bulk, 1)
	assert.Equal(t, "u1", bulk[0].UID)
}
