package chat

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
	"resonance-chat/internal/observability"
	"resonance-chat/internal/presence"
	"resonance-chat/internal/repositories"
	"resonance-chat/internal/telemetry"
)

// Directory finds the live connection of a user.
type Directory interface {
	Lookup(userID string) (presence.Handle, bool)
}

// Outcome of the live push step of a send.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeQueued    Outcome = "queued"
)

type SendRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text"`
	Attachment string `json:"attachment"`
}

type SendResult struct {
	Message models.Message
	Outcome Outcome
}

type readRequest struct {
	Reader     string `json:"reader" validate:"required"`
	OtherParty string `json:"otherParty" validate:"required"`
}

type Options struct {
	// StoreTimeout bounds every store call; zero means 5s.
	StoreTimeout time.Duration
	// ReceiptOnNoop sends a read receipt even when nothing changed.
	ReceiptOnNoop bool
	Audit         *telemetry.AuditEmitter
}

// Service runs the delivery pipeline, read-state updates, typing relay and
// conversation summaries on top of the message store and the registry.
type Service struct {
	messages  repositories.MessageRepository
	users     repositories.UserRepository
	directory Directory
	audit     *telemetry.AuditEmitter
	validate  *validator.Validate
	tracer    trace.Tracer

	storeTimeout  time.Duration
	receiptOnNoop bool
}

func NewService(messages repositories.MessageRepository, users repositories.UserRepository, directory Directory, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Service{
		messages:      messages,
		users:         users,
		directory:     directory,
		audit:         opts.Audit,
		validate:      v,
		tracer:        otel.Tracer("resonance-chat/chat"),
		storeTimeout:  opts.StoreTimeout,
		receiptOnNoop: opts.ReceiptOnNoop,
	}
}

// Send persists a message, pushes it to the receiver when connected and
// acknowledges the sender. origin may be nil for request/response callers,
// in which case the returned result is the acknowledgment.
func (s *Service) Send(ctx context.Context, origin presence.Handle, req SendRequest) (SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.send")
	defer span.End()

	req.SenderID = normalizeID(req.SenderID)
	req.ReceiverID = normalizeID(req.ReceiverID)
	span.SetAttributes(
		attribute.String("chat.sender_id", req.SenderID),
		attribute.String("chat.receiver_id", req.ReceiverID),
	)

	if err := s.validate.Struct(req); err != nil {
		observability.IncDeliveryOutcome("invalid")
		cerr := newError(ErrorInvalidMessage, describeValidation(err), nil)
		s.fail(origin, cerr)
		span.SetStatus(codes.Error, cerr.Reason)
		return SendResult{}, cerr
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	stored, err := s.messages.Append(storeCtx, models.Message{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Attachment: req.Attachment,
	})
	cancel()
	if err != nil {
		observability.IncDeliveryOutcome("failed")
		logger.Errorf("chat: persist message %s -> %s: %v", req.SenderID, req.ReceiverID, err)
		cerr := newError(ErrorStoreUnavailable, "message could not be saved", err)
		s.fail(origin, cerr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		sender := req.SenderID
		s.audit.Emit(ctx, "ERROR", "send failed: "+err.Error(), observability.RequestIDFromContext(ctx), &sender)
		return SendResult{}, cerr
	}

	outcome := OutcomeQueued
	if h, ok := s.directory.Lookup(stored.ReceiverID); ok {
		if h.Push(models.Signal{Type: models.SignalDelivered, Payload: stored}) {
			outcome = OutcomeDelivered
		} else {
			logger.Warnf("chat: live push to %s dropped, message %s stays queued", stored.ReceiverID, stored.ID)
		}
	}
	observability.IncDeliveryOutcome(string(outcome))
	span.SetAttributes(
		attribute.String("chat.message_id", stored.ID),
		attribute.String("chat.outcome", string(outcome)),
	)

	if origin != nil {
		origin.Push(models.Signal{Type: models.SignalAcknowledged, Payload: stored})
	}

	_ = observability.PublishEvent(ctx, observability.RoutingMessagePersisted, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_persisted",
		Payload: map[string]any{
			"message_id":  stored.ID,
			"sender_id":   stored.SenderID,
			"receiver_id": stored.ReceiverID,
			"outcome":     outcome,
			"created_at":  stored.CreatedAt,
		},
	}, observability.HeadersFromContext(ctx))

	return SendResult{Message: stored, Outcome: outcome}, nil
}

// MarkRead flags every unread message from otherParty to reader and relays a
// read receipt to otherParty when something changed and it is connected.
func (s *Service) MarkRead(ctx context.Context, reader, otherParty string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "chat.mark_read")
	defer span.End()

	req := readRequest{Reader: normalizeID(reader), OtherParty: normalizeID(otherParty)}
	if err := s.validate.Struct(req); err != nil {
		return 0, newError(ErrorInvalidRequest, describeValidation(err), nil)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	updated, err := s.messages.MarkRead(storeCtx, req.Reader, req.OtherParty)
	cancel()
	if err != nil {
		logger.Errorf("chat: mark read %s <- %s: %v", req.Reader, req.OtherParty, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark read failed")
		return 0, newError(ErrorStoreUnavailable, "read state could not be updated", err)
	}
	span.SetAttributes(attribute.Int64("chat.updated", updated))

	if updated > 0 || s.receiptOnNoop {
		if h, ok := s.directory.Lookup(req.OtherParty); ok {
			if h.Push(models.Signal{Type: models.SignalReadReceipt, Payload: models.ReadReceiptPayload{ReaderID: req.Reader}}) {
				observability.IncReadReceipt()
			}
		}
	}

	if updated > 0 {
		_ = observability.PublishEvent(ctx, observability.RoutingMessagesRead, observability.EventEnvelope{
			EventType: "chat_events",
			EventName: "messages_read",
			Payload: map[string]any{
				"reader_id":     req.Reader,
				"sender_id":     req.OtherParty,
				"updated_count": updated,
			},
		}, observability.HeadersFromContext(ctx))
	}
	return updated, nil
}

// Typing relays a typing indicator to the receiver when connected. Nothing is
// persisted and failures are silent.
func (s *Service) Typing(senderID, receiverID string, isTyping bool) {
	senderID, receiverID = normalizeID(senderID), normalizeID(receiverID)
	if senderID == "" || receiverID == "" {
		return
	}
	h, ok := s.directory.Lookup(receiverID)
	if !ok {
		return
	}
	h.Push(models.Signal{
		Type:    models.SignalTypingChanged,
		Payload: models.TypingChangedPayload{SenderID: senderID, IsTyping: isTyping},
	})
}

// History returns the pair's messages oldest first. Unknown users yield an
// empty list.
func (s *Service) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	userA, userB = normalizeID(userA), normalizeID(userB)
	if userA == "" || userB == "" {
		return []models.Message{}, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	msgs, err := s.messages.History(storeCtx, userA, userB)
	if err != nil {
		return nil, newError(ErrorStoreUnavailable, "history could not be loaded", err)
	}
	return msgs, nil
}

// Conversations summarizes userID's conversations, newest first. Ties on
// createdAt are ordered by message id, descending. Counterparts without a
// profile are left out.
func (s *Service) Conversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	ctx, span := s.tracer.Start(ctx, "chat.conversations")
	defer span.End()

	userID = normalizeID(userID)
	if userID == "" {
		return []models.ConversationSummary{}, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	groups, err := s.messages.Conversations(storeCtx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, newError(ErrorStoreUnavailable, "conversations could not be loaded", err)
	}
	if len(groups) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := lo.Map(groups, func(g models.ConversationGroup, _ int) string { return g.CounterpartID })
	profiles, err := s.users.BulkProfiles(storeCtx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, newError(ErrorStoreUnavailable, "profiles could not be loaded", err)
	}
	byUID := lo.KeyBy(profiles, func(p models.UserProfile) string { return p.UID })

	summaries := lo.FilterMap(groups, func(g models.ConversationGroup, _ int) (models.ConversationSummary, bool) {
		profile, ok := byUID[g.CounterpartID]
		if !ok {
			return models.ConversationSummary{}, false
		}
		return models.ConversationSummary{User: profile, LastMessage: g.LastMessage, UnreadCount: g.UnreadCount}, true
	})
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	span.SetAttributes(attribute.Int("chat.conversations", len(summaries)))
	return summaries, nil
}

// normalizeID trims user ids so every entry point addresses the same pair.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

func (s *Service) fail(origin presence.Handle, err *Error) {
	if origin == nil {
		return
	}
	origin.Push(models.Signal{Type: models.SignalSendFailed, Payload: models.ErrorPayload{Error: err.Reason}})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string { return fe.Field() })
	return strings.Join(fields, ", ") + " required"
}
