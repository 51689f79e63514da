package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
)

type APIMock struct {
	mock.Mock
}

func (m *APIMock) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *APIMock) GetConversationPage(ctx context.Context, conversationID, cursor string, pageSize int) (api.Page, error) {
	args := m.Called(ctx, conversationID, cursor, pageSize)
	var page api.Page
	if val := args.Get(0); val != nil {
		page = val.(api.Page)
	}
	return page, args.Error(1)
}

func (m *APIMock) SendMessage(ctx context.Context, conversationID, content, clientTempID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, content, clientTempID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) MarkRead(ctx context.Context, conversationID, messageID string) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

func (m *APIMock) CreateConversation(ctx context.Context, targetParticipant int) (models.Conversation, error) {
	args := m.Called(ctx, targetParticipant)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

var _ api.API = (*APIMock)(nil)
