package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"itembay/models"
)

// GetChat loads the conversation for a transaction, creating it lazily, and
// marks the caller's unread messages as read. Only trade participants and
// admins may read a chat.
func (e *Engine) GetChat(ctx context.Context, actor Actor, transactionID uuid.UUID) (*models.Chat, error) {
	trade, err := e.loadChatTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}

	var chat models.Chat
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.findOrCreateChat(tx, trade.ID, &chat); err != nil {
			return err
		}
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ? AND recipient_id = ? AND is_read = ?", chat.ID, actor.ID, false).
			Update("is_read", true).Error; err != nil {
			return Internal(err)
		}
		if err := tx.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.created_at ASC").Preload("Sender")
		}).First(&chat, "id = ?", chat.ID).Error; err != nil {
			return Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// PostMessage appends a message to the transaction's chat. The recipient is
// derived from the sender's relation: buyer and seller address each other,
// while escrow and admin messages go to the buyer.
func (e *Engine) PostMessage(ctx context.Context, actor Actor, transactionID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Invalid("message cannot be empty", map[string]string{"content": "required"})
	}
	if len(content) > 1000 {
		return nil, Invalid("message too long", map[string]string{"content": "at most 1000 characters"})
	}

	trade, err := e.loadChatTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}

	recipient := trade.BuyerID
	switch actor.ID {
	case trade.BuyerID:
		recipient = trade.SellerID
	case trade.SellerID:
		recipient = trade.BuyerID
	}

	var message models.Message
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := e.findOrCreateChat(tx, trade.ID, &chat); err != nil {
			return err
		}
		message = models.Message{
			ID:          uuid.New(),
			ChatID:      chat.ID,
			SenderID:    actor.ID,
			RecipientID: recipient,
			Content:     content,
			CreatedAt:   e.now(),
		}
		if err := tx.Create(&message).Error; err != nil {
			return Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.db.WithContext(ctx).Preload("Sender").First(&message, "id = ?", message.ID).Error; err != nil {
		return nil, Internal(err)
	}
	return &message, nil
}

// MessagesSince returns chat messages created after the cursor, oldest first.
// Used by the streaming endpoint to poll for new entries.
func (e *Engine) MessagesSince(ctx context.Context, actor Actor, transactionID uuid.UUID, since time.Time) ([]models.Message, error) {
	trade, err := e.loadChatTransaction(ctx, actor, transactionID)
	if err != nil {
		return nil, err
	}

	var chat models.Chat
	if err := e.db.WithContext(ctx).First(&chat, "transaction_id = ?", trade.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, Internal(err)
	}

	var messages []models.Message
	if err := e.db.WithContext(ctx).Preload("Sender").
		Where("chat_id = ? AND created_at > ?", chat.ID, since).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, Internal(err)
	}
	return messages, nil
}

func (e *Engine) loadChatTransaction(ctx context.Context, actor Actor, transactionID uuid.UUID) (*models.Transaction, error) {
	var trade models.Transaction
	if err := e.db.WithContext(ctx).First(&trade, "id = ?", transactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("transaction not found")
		}
		return nil, Internal(err)
	}
	if !participant(actor, &trade) {
		return nil, Forbidden("you do not have access to this chat")
	}
	return &trade, nil
}

func (e *Engine) findOrCreateChat(tx *gorm.DB, transactionID uuid.UUID, chat *models.Chat) error {
	err := tx.First(chat, "transaction_id = ?", transactionID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Internal(err)
	}
	*chat = models.Chat{ID: uuid.New(), TransactionID: transactionID, CreatedAt: e.now()}
	if err := tx.Create(chat).Error; err != nil {
		return Internal(err)
	}
	return nil
}
