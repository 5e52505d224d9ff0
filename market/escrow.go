package market

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"itembay/models"
)

// EscrowAssigner picks the escrow agent for a new transaction. Assign runs
// inside the creation transaction; the agent must differ from both trade
// parties, and returning (nil, nil) means the trade proceeds unmediated.
type EscrowAssigner interface {
	Assign(tx *gorm.DB, buyerID, sellerID uuid.UUID) (*models.User, error)
}

// LeastLoadedAssigner selects the ESCROW user currently mediating the fewest
// open trades, breaking ties toward the oldest account.
type LeastLoadedAssigner struct{}

// Assign implements EscrowAssigner.
func (LeastLoadedAssigner) Assign(tx *gorm.DB, buyerID, sellerID uuid.UUID) (*models.User, error) {
	open := tx.Session(&gorm.Session{NewDB: true}).
		Model(&models.Transaction{}).
		Select("COUNT(*)").
		Where("transactions.escrow_id = users.id AND transactions.status IN ?", models.ActiveStatuses())

	var agent models.User
	err := tx.Model(&models.User{}).
		Select("users.*, (?) AS open_trades", open).
		Where("role = ?", models.RoleEscrow).
		Where("users.id NOT IN ?", []uuid.UUID{buyerID, sellerID}).
		Order("open_trades ASC, created_at ASC").
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

// NoEscrowAssigner never assigns an agent; every trade is direct.
type NoEscrowAssigner struct{}

// Assign implements EscrowAssigner.
func (NoEscrowAssigner) Assign(*gorm.DB, uuid.UUID, uuid.UUID) (*models.User, error) {
	return nil, nil
}
