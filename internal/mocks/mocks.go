package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resonance-chat/internal/chat"
	"resonance-chat/internal/models"
	"resonance-chat/internal/presence"
	"resonance-chat/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	args := m.Called(ctx, receiverID, senderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) Conversations(ctx context.Context, userID string) ([]models.ConversationGroup, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationGroup
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationGroup)
	}
	return list, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateIfAbsent(ctx context.Context, p models.UserProfile) (models.UserProfile, bool, error) {
	args := m.Called(ctx, p)
	var profile models.UserProfile
	if val := args.Get(0); val != nil {
		profile = val.(models.UserProfile)
	}
	return profile, args.Bool(1), args.Error(2)
}

func (m *UserRepositoryMock) GetProfile(ctx context.Context, uid string) (models.UserProfile, error) {
	args := m.Called(ctx, uid)
	var profile models.UserProfile
	if val := args.Get(0); val != nil {
		profile = val.(models.UserProfile)
	}
	return profile, args.Error(1)
}

func (m *UserRepositoryMock) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	args := m.Called(ctx)
	var list []models.UserProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.UserProfile)
	}
	return list, args.Error(1)
}

func (m *UserRepositoryMock) BulkProfiles(ctx context.Context, uids []string) ([]models.UserProfile, error) {
	args := m.Called(ctx, uids)
	var list []models.UserProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.UserProfile)
	}
	return list, args.Error(1)
}

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) Send(ctx context.Context, origin presence.Handle, req chat.SendRequest) (chat.SendResult, error) {
	args := m.Called(ctx, origin, req)
	var res chat.SendResult
	if val := args.Get(0); val != nil {
		res = val.(chat.SendResult)
	}
	return res, args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, reader, otherParty string) (int64, error) {
	args := m.Called(ctx, reader, otherParty)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatServiceMock) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) Conversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

var (
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.UserRepository    = (*UserRepositoryMock)(nil)
	_ presence.Handle                = (*Handle)(nil)
)
