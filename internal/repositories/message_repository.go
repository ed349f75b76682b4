package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
)

// ErrStoreUnavailable wraps every failure of the durable backend.
var ErrStoreUnavailable = errors.New("store unavailable")

// MessageRepository is the durable, append-only message log.
type MessageRepository interface {
	// Append stores msg and returns it with the store-assigned id and createdAt.
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	// History returns the messages between the unordered pair, oldest first.
	History(ctx context.Context, userA, userB string) ([]models.Message, error)
	// MarkRead flags unread messages from sender to receiver as read.
	MarkRead(ctx context.Context, receiverID, senderID string) (int64, error)
	// Conversations groups userID's messages by counterpart.
	Conversations(ctx context.Context, userID string) ([]models.ConversationGroup, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, text, attachment, is_read, read_at, created_at, seq`

// Append inserts a message; created_at is set by the database.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	defer logger.DeferLogDuration("messages.Append", time.Now())()
	var stored models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, attachment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		uuid.NewString(), msg.SenderID, msg.ReceiverID, msg.Text, msg.Attachment,
	).StructScan(&stored)
	if err != nil {
		return models.Message{}, unavailable("append message", err)
	}
	return stored, nil
}

// History returns both directions between userA and userB ordered by createdAt.
func (r *MessageRepo) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	defer logger.DeferLogDuration("messages.History", time.Now())()
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE (sender_id = $1 AND receiver_id = $2)
           OR (sender_id = $2 AND receiver_id = $1)
        ORDER BY created_at ASC, seq ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, userA, userB); err != nil {
		return nil, unavailable("history", err)
	}
	return msgs, nil
}

// MarkRead sets is_read and read_at on every unread message from senderID to receiverID.
func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	defer logger.DeferLogDuration("messages.MarkRead", time.Now())()
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE, read_at = NOW()
         WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`,
		receiverID, senderID)
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("mark read rows", err)
	}
	return count, nil
}

type conversationRow struct {
	CounterpartID string `db:"counterpart_id"`
	UnreadCount   int    `db:"unread_count"`
	models.Message
}

// Conversations picks the newest message per counterpart and counts the unread
// messages addressed to userID.
func (r *MessageRepo) Conversations(ctx context.Context, userID string) ([]models.ConversationGroup, error) {
	defer logger.DeferLogDuration("messages.Conversations", time.Now())()
	query := `WITH mine AS (
            SELECT ` + messageColumns + `,
                   CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart_id
            FROM messages
            WHERE sender_id = $1 OR receiver_id = $1
        ), unread AS (
            SELECT counterpart_id,
                   COUNT(*) FILTER (WHERE receiver_id = $1 AND is_read = FALSE) AS unread_count
            FROM mine
            GROUP BY counterpart_id
        )
        SELECT DISTINCT ON (mine.counterpart_id)
               mine.counterpart_id, unread.unread_count,
               mine.id, mine.sender_id, mine.receiver_id, mine.text, mine.attachment,
               mine.is_read, mine.read_at, mine.created_at, mine.seq
        FROM mine
        JOIN unread ON unread.counterpart_id = mine.counterpart_id
        ORDER BY mine.counterpart_id, mine.created_at DESC, mine.seq DESC`

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, unavailable("conversations", err)
	}
	groups := make([]models.ConversationGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, models.ConversationGroup{
			CounterpartID: row.CounterpartID,
			LastMessage:   row.Message,
			UnreadCount:   row.UnreadCount,
		})
	}
	return groups, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
