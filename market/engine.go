package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"itembay/models"
)

// Actor is the authenticated identity a core operation runs on behalf of.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

// Decision is the outcome of a permission check. Reason is set on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision        { return Decision{Allowed: true} }
func deny(r string) Decision { return Decision{Reason: r} }

// Engine coordinates the trade lifecycle: creation, guarded status
// transitions with their side effects, and participant-scoped reads.
type Engine struct {
	db       *gorm.DB
	assigner EscrowAssigner
	nowFn    func() time.Time
}

// Option customises engine construction.
type Option func(*Engine)

// WithEscrowAssigner overrides the escrow assignment policy.
func WithEscrowAssigner(a EscrowAssigner) Option {
	return func(e *Engine) {
		if a != nil {
			e.assigner = a
		}
	}
}

// WithClock overrides the time source, primarily used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// NewEngine constructs an engine bound to the supplied database.
func NewEngine(db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		assigner: &LeastLoadedAssigner{},
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.nowFn() }

// CanTransition decides whether actor may move the transaction to target.
// The decision depends only on the actor's role and relation to the
// transaction, the current status, the escrow assignment, and the target.
func (e *Engine) CanTransition(actor Actor, trade *models.Transaction, target models.TransactionStatus) Decision {
	if trade.Status.Terminal() {
		return deny(fmt.Sprintf("transaction is already %s", trade.Status))
	}
	if target == trade.Status {
		return deny(fmt.Sprintf("transaction is already %s", trade.Status))
	}

	// Admins and the designated escrow agent may apply any transition.
	if actor.Role == models.RoleAdmin {
		return allow()
	}
	if trade.EscrowID != nil && *trade.EscrowID == actor.ID && actor.Role == models.RoleEscrow {
		return allow()
	}

	if actor.ID == trade.BuyerID {
		if trade.Status == models.StatusPending && target == models.StatusPaid {
			return allow()
		}
		if (trade.Status == models.StatusPaid || trade.Status == models.StatusInEscrow) && target == models.StatusDisputed {
			return allow()
		}
	}

	if actor.ID == trade.SellerID {
		// Direct sales only: with an escrow agent assigned, completion is theirs.
		if trade.Status == models.StatusPaid && target == models.StatusCompleted && trade.EscrowID == nil {
			return allow()
		}
		if (trade.Status == models.StatusPaid || trade.Status == models.StatusInEscrow) && target == models.StatusDisputed {
			return allow()
		}
	}

	return deny("you don't have permission to update this transaction to the requested status")
}

// StatusUpdate carries the inputs of a status transition request.
type StatusUpdate struct {
	Status        models.TransactionStatus
	TxHash        string
	EscrowAddress string
}

// UpdateStatus applies a status transition as a single unit of work. The
// transaction row is locked and the permission re-checked against current
// state, so a concurrent duplicate loses the race and is denied.
func (e *Engine) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, upd StatusUpdate) (*models.Transaction, error) {
	if !upd.Status.Valid() {
		return nil, Invalid("unknown transaction status", map[string]string{"status": string(upd.Status)})
	}

	var out models.Transaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade models.Transaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&trade, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("transaction not found")
			}
			return Internal(err)
		}

		if decision := e.CanTransition(actor, &trade, upd.Status); !decision.Allowed {
			return Forbidden(decision.Reason)
		}

		now := e.now()
		trade.Status = upd.Status
		trade.UpdatedAt = now
		if upd.TxHash != "" {
			trade.TxHash = upd.TxHash
		}
		if upd.EscrowAddress != "" {
			trade.EscrowAddress = upd.EscrowAddress
		}
		if upd.Status == models.StatusCompleted {
			trade.CompletedAt = &now
		}
		if err := tx.Save(&trade).Error; err != nil {
			return Internal(err)
		}

		switch upd.Status {
		case models.StatusCompleted:
			if err := tx.Model(&models.Listing{}).Where("id = ?", trade.ListingID).
				Update("status", models.ListingSold).Error; err != nil {
				return Internal(err)
			}
			if err := tx.Model(&models.User{}).Where("id = ?", trade.SellerID).
				Updates(map[string]interface{}{
					"transaction_count":       gorm.Expr("transaction_count + ?", 1),
					"successful_transactions": gorm.Expr("successful_transactions + ?", 1),
				}).Error; err != nil {
				return Internal(err)
			}
			if err := tx.Model(&models.User{}).Where("id = ?", trade.BuyerID).
				Update("transaction_count", gorm.Expr("transaction_count + ?", 1)).Error; err != nil {
				return Internal(err)
			}
		case models.StatusCancelled, models.StatusRefunded:
			if err := tx.Model(&models.Listing{}).Where("id = ?", trade.ListingID).
				Update("status", models.ListingAvailable).Error; err != nil {
				return Internal(err)
			}
		}

		if err := e.appendEvent(tx, trade.ID, actor.ID, fmt.Sprintf("transaction.%s", upd.Status), ""); err != nil {
			return err
		}
		out = trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransaction reserves an available listing for the buyer: the trade is
// created PENDING, the listing flips to PENDING, the chat is opened, and an
// escrow agent is assigned per policy, all in one commit.
func (e *Engine) CreateTransaction(ctx context.Context, buyer Actor, listingID uuid.UUID, currency string) (*models.Transaction, error) {
	if currency != "" && !validCurrency(currency) {
		return nil, Invalid("unsupported currency", map[string]string{"currency": currency})
	}

	var out models.Transaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listing models.Listing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&listing, "id = ?", listingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("listing not found")
			}
			return Internal(err)
		}
		if listing.Status != models.ListingAvailable {
			return Conflict("this listing is not available for purchase")
		}
		if listing.SellerID == buyer.ID {
			return Invalid("you cannot buy your own listing", nil)
		}

		escrow, err := e.assigner.Assign(tx, buyer.ID, listing.SellerID)
		if err != nil {
			return Internal(err)
		}

		now := e.now()
		trade := models.Transaction{
			ID:        uuid.New(),
			Amount:    listing.Price,
			Currency:  listing.Currency,
			Status:    models.StatusPending,
			BuyerID:   buyer.ID,
			SellerID:  listing.SellerID,
			ListingID: listing.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if currency != "" {
			trade.Currency = currency
		}
		if escrow != nil {
			trade.EscrowID = &escrow.ID
		}
		if err := tx.Create(&trade).Error; err != nil {
			return Internal(err)
		}

		if err := tx.Model(&models.Listing{}).Where("id = ?", listing.ID).
			Update("status", models.ListingPending).Error; err != nil {
			return Internal(err)
		}

		chat := models.Chat{ID: uuid.New(), TransactionID: trade.ID, CreatedAt: now}
		if err := tx.Create(&chat).Error; err != nil {
			return Internal(err)
		}

		details := fmt.Sprintf("amount=%.8f currency=%s", trade.Amount, trade.Currency)
		if err := e.appendEvent(tx, trade.ID, buyer.ID, "transaction.created", details); err != nil {
			return err
		}
		out = trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Relation string // "buyer", "seller", "escrow", or empty for all
	Status   models.TransactionStatus
	Page     int
	Limit    int
}

// Page is one page of transactions plus pagination metadata.
type Page struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	PageNum      int                  `json:"page"`
	Limit        int                  `json:"limit"`
	TotalPages   int64                `json:"totalPages"`
}

// ListTransactions returns the actor's transactions, newest first.
func (e *Engine) ListTransactions(ctx context.Context, actor Actor, filter TransactionFilter) (*Page, error) {
	page, limit := normalizePage(filter.Page, filter.Limit)

	q := e.db.WithContext(ctx).Model(&models.Transaction{})
	switch filter.Relation {
	case "buyer":
		q = q.Where("buyer_id = ?", actor.ID)
	case "seller":
		q = q.Where("seller_id = ?", actor.ID)
	case "escrow":
		if actor.Role != models.RoleEscrow && actor.Role != models.RoleAdmin {
			return nil, Forbidden("unauthorized to view escrow transactions")
		}
		q = q.Where("escrow_id = ?", actor.ID)
	case "":
		if actor.Role == models.RoleEscrow || actor.Role == models.RoleAdmin {
			q = q.Where("buyer_id = ? OR seller_id = ? OR escrow_id = ?", actor.ID, actor.ID, actor.ID)
		} else {
			q = q.Where("buyer_id = ? OR seller_id = ?", actor.ID, actor.ID)
		}
	default:
		return nil, Invalid("unknown relation filter", map[string]string{"role": filter.Relation})
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, Invalid("unknown transaction status", map[string]string{"status": string(filter.Status)})
		}
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Internal(err)
	}

	var trades []models.Transaction
	if err := q.Preload("Listing").Preload("Buyer").Preload("Seller").Preload("Escrow").
		Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&trades).Error; err != nil {
		return nil, Internal(err)
	}

	return &Page{
		Transactions: trades,
		Total:        total,
		PageNum:      page,
		Limit:        limit,
		TotalPages:   totalPages(total, limit),
	}, nil
}

// GetTransaction loads one transaction for a participant or an admin.
func (e *Engine) GetTransaction(ctx context.Context, actor Actor, id uuid.UUID) (*models.Transaction, error) {
	var trade models.Transaction
	if err := e.db.WithContext(ctx).
		Preload("Listing").Preload("Buyer").Preload("Seller").Preload("Escrow").
		First(&trade, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("transaction not found")
		}
		return nil, Internal(err)
	}
	if !participant(actor, &trade) {
		return nil, Forbidden("you do not have access to this transaction")
	}
	return &trade, nil
}

// participant reports whether actor is buyer, seller, assigned escrow, or admin.
func participant(actor Actor, trade *models.Transaction) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	if actor.ID == trade.BuyerID || actor.ID == trade.SellerID {
		return true
	}
	return trade.EscrowID != nil && *trade.EscrowID == actor.ID
}

func (e *Engine) appendEvent(tx *gorm.DB, entityID, actorID uuid.UUID, action, details string) error {
	event := models.Event{
		ID:        uuid.New(),
		EntityID:  &entityID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: e.now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return Internal(err)
	}
	return nil
}

func validCurrency(c string) bool {
	switch c {
	case "ETH", "WETH", "USDC":
		return true
	}
	return false
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func totalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
