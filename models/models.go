package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole identifies what a user is allowed to do on the marketplace.
type UserRole string

// Supported user roles.
const (
	RoleBuyer  UserRole = "BUYER"
	RoleSeller UserRole = "SELLER"
	RoleEscrow UserRole = "ESCROW"
	RoleAdmin  UserRole = "ADMIN"
)

// ListingStatus tracks the sale state of a listing.
type ListingStatus string

// All listing states.
const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingPending   ListingStatus = "PENDING"
	ListingSold      ListingStatus = "SOLD"
	ListingInactive  ListingStatus = "INACTIVE"
	ListingDeleted   ListingStatus = "DELETED"
)

// TransactionStatus represents a state in the trade lifecycle.
type TransactionStatus string

// All trade lifecycle states.
const (
	StatusPending   TransactionStatus = "PENDING"
	StatusPaid      TransactionStatus = "PAID"
	StatusInEscrow  TransactionStatus = "IN_ESCROW"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusDisputed  TransactionStatus = "DISPUTED"
	StatusRefunded  TransactionStatus = "REFUNDED"
)

// Valid reports whether the status is one of the defined lifecycle states.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusInEscrow, StatusCompleted, StatusCancelled, StatusDisputed, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave this state.
// DISPUTED is not terminal: escrow or admin can still resolve it.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// ActiveStatuses are the states during which a listing stays reserved.
func ActiveStatuses() []TransactionStatus {
	return []TransactionStatus{StatusPending, StatusPaid, StatusInEscrow, StatusDisputed}
}

// Category classifies what kind of virtual item a listing sells.
type Category string

// All listing categories.
const (
	CategorySkin    Category = "SKIN"
	CategoryAccount Category = "ACCOUNT"
	CategoryCode    Category = "CODE"
	CategoryItem    Category = "ITEM"
	CategoryOther   Category = "OTHER"
)

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	switch c {
	case CategorySkin, CategoryAccount, CategoryCode, CategoryItem, CategoryOther:
		return true
	}
	return false
}

// Rarity grades an item within its category.
type Rarity string

// All rarity grades.
const (
	RarityCommon    Rarity = "COMMON"
	RarityUncommon  Rarity = "UNCOMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
	RarityMythic    Rarity = "MYTHIC"
)

// Valid reports whether the rarity is known.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary, RarityMythic:
		return true
	}
	return false
}

// StringArray stores a JSON-encoded list of strings in a text column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported type %T for StringArray", value)
	}
}

// User stores marketplace account information.
type User struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email                  string    `gorm:"uniqueIndex;size:255" json:"email"`
	Username               string    `gorm:"index;size:64" json:"username"`
	Name                   string    `gorm:"size:128" json:"name"`
	Bio                    string    `gorm:"size:512" json:"bio"`
	Image                  string    `gorm:"size:512" json:"image"`
	WalletAddress          string    `gorm:"size:128" json:"walletAddress"`
	HashedPassword         string    `gorm:"size:128" json:"-"`
	Role                   UserRole  `gorm:"size:16;index" json:"role"`
	Rating                 float64   `json:"rating"`
	VerifiedSeller         bool      `json:"verifiedSeller"`
	TransactionCount       int64     `json:"transactionCount"`
	SuccessfulTransactions int64     `json:"successfulTransactions"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Listing describes a sellable item record.
type Listing struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID    uuid.UUID     `gorm:"type:uuid;index" json:"sellerId"`
	Title       string        `gorm:"size:128" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Price       float64       `gorm:"not null" json:"price"`
	Currency    string        `gorm:"size:16" json:"currency"`
	Images      StringArray   `gorm:"type:text" json:"images"`
	Category    Category      `gorm:"size:16;index" json:"category"`
	Rarity      Rarity        `gorm:"size:16;index" json:"rarity"`
	Status      ListingStatus `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`

	Seller *User `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
}

// Transaction records a single buyer-seller exchange for one listing.
// Rows are never deleted; the table doubles as the trade audit trail.
type Transaction struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Amount        float64           `gorm:"not null" json:"amount"`
	Currency      string            `gorm:"size:16" json:"currency"`
	Status        TransactionStatus `gorm:"size:16;index" json:"status"`
	BuyerID       uuid.UUID         `gorm:"type:uuid;index" json:"buyerId"`
	SellerID      uuid.UUID         `gorm:"type:uuid;index" json:"sellerId"`
	EscrowID      *uuid.UUID        `gorm:"type:uuid;index" json:"escrowId"`
	ListingID     uuid.UUID         `gorm:"type:uuid;index" json:"listingId"`
	TxHash        string            `gorm:"size:128" json:"txHash"`
	EscrowAddress string            `gorm:"size:128" json:"escrowAddress"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	CompletedAt   *time.Time        `json:"completedAt"`

	Listing *Listing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`
	Buyer   *User    `gorm:"foreignKey:BuyerID" json:"buyer,omitempty"`
	Seller  *User    `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	Escrow  *User    `gorm:"foreignKey:EscrowID" json:"escrow,omitempty"`
}

// Review is feedback left by one trade participant about the other.
type Review struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;index:idx_reviewer_tx,unique" json:"transactionId"`
	ReviewerID    uuid.UUID `gorm:"type:uuid;index:idx_reviewer_tx,unique" json:"reviewerId"`
	TargetUserID  uuid.UUID `gorm:"type:uuid;index" json:"targetUserId"`
	Rating        int       `gorm:"not null" json:"rating"`
	Comment       string    `gorm:"size:512" json:"comment"`
	CreatedAt     time.Time `json:"createdAt"`

	Reviewer *User `gorm:"foreignKey:ReviewerID" json:"reviewer,omitempty"`
}

// Chat is the single conversation attached to a transaction.
type Chat struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"transactionId"`
	CreatedAt     time.Time `json:"createdAt"`

	Messages []Message `gorm:"foreignKey:ChatID" json:"messages"`
}

// Message is one entry in a chat, addressed to a single recipient.
type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID      uuid.UUID `gorm:"type:uuid;index" json:"chatId"`
	SenderID    uuid.UUID `gorm:"type:uuid;index" json:"senderId"`
	RecipientID uuid.UUID `gorm:"type:uuid;index" json:"recipientId"`
	Content     string    `gorm:"size:1024" json:"content"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// Event is the audit trail for state-changing operations.
type Event struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EntityID  *uuid.UUID `gorm:"type:uuid;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;index"`
	Action    string     `gorm:"size:64"`
	Details   string     `gorm:"type:text"`
	CreatedAt time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Listing{},
		&Transaction{},
		&Review{},
		&Chat{},
		&Message{},
		&Event{},
		&IdempotencyKey{},
	)
}
