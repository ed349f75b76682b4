package repositories

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resonance-chat/internal/db"
	"resonance-chat/internal/models"
)

// openTestDB connects to CHAT_TEST_DATABASE_DSN or skips.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_DATABASE_DSN not set")
	}
	conn, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPostgresMessageLifecycle(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewMessageRepo(conn)

	a := "a-" + uuid.NewString()
	b := "b-" + uuid.NewString()

	m1, err := repo.Append(ctx, models.Message{SenderID: a, ReceiverID: b, Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ID)
	assert.False(t, m1.IsRead)
	_, err = repo.Append(ctx, models.Message{SenderID: b, ReceiverID: a, Text: "hey"})
	require.NoError(t, err)
	_, err = repo.Append(ctx, models.Message{SenderID: a, ReceiverID: b, Attachment: "img://1"})
	require.NoError(t, err)

	hist, err := repo.History(ctx, b, a)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "hi", hist[0].Text)
	assert.Equal(t, "img://1", hist[2].Attachment)

	groups, err := repo.Conversations(ctx, b)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, a, groups[0].CounterpartID)
	assert.Equal(t, 2, groups[0].UnreadCount)
	assert.Equal(t, "img://1", groups[0].LastMessage.Attachment)

	n, err := repo.MarkRead(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = repo.MarkRead(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	hist, err = repo.History(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, hist[0].IsRead)
	assert.NotNil(t, hist[0].ReadAt)
}

func TestPostgresUserRepo(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewUserRepo(conn)
	uid := "u-" + uuid.NewString()

	p, created, err := repo.CreateIfAbsent(ctx, models.UserProfile{UID: uid, DisplayName: "Ann"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Ann", p.DisplayName)

	p, created, err = repo.CreateIfAbsent(ctx, models.UserProfile{UID: uid, DisplayName: "Other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ann", p.DisplayName)

	bulk, err := repo.BulkProfiles(ctx, []string{uid, "missing-" + uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, bulk, 1)

	_, err = repo.GetProfile(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
