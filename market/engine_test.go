package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"itembay/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role models.UserRole) models.User {
	t.Helper()
	user := models.User{
		ID:        uuid.New(),
		Email:     fmt.Sprintf("%s@example.com", uuid.NewString()),
		Name:      "Test User",
		Role:      role,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedListing(t *testing.T, db *gorm.DB, seller models.User) models.Listing {
	t.Helper()
	listing := models.Listing{
		ID:          uuid.New(),
		SellerID:    seller.ID,
		Title:       "Dragon Lore Skin",
		Description: "Factory new, trade lock expired.",
		Price:       2.5,
		Currency:    "ETH",
		Category:    models.CategorySkin,
		Rarity:      models.RarityLegendary,
		Status:      models.ListingAvailable,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(&listing).Error)
	return listing
}

func asActor(u models.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

func TestCreateTransactionReservesListing(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db)

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	agent := seedUser(t, db, models.RoleEscrow)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(context.Background(), asActor(buyer), listing.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, trade.Status)
	require.Equal(t, listing.Price, trade.Amount)
	require.Equal(t, "ETH", trade.Currency)
	require.NotNil(t, trade.EscrowID)
	require.Equal(t, agent.ID, *trade.EscrowID)

	var reloaded models.Listing
	require.NoError(t, db.First(&reloaded, "id = ?", listing.ID).Error)
	require.Equal(t, models.ListingPending, reloaded.Status)

	var chats int64
	require.NoError(t, db.Model(&models.Chat{}).Where("transaction_id = ?", trade.ID).Count(&chats).Error)
	require.EqualValues(t, 1, chats)

	var events int64
	require.NoError(t, db.Model(&models.Event{}).Where("entity_id = ? AND action = ?", trade.ID, "transaction.created").Count(&events).Error)
	require.EqualValues(t, 1, events)
}

func TestCreateTransactionRejections(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	listing := seedListing(t, db, seller)

	_, err := engine.CreateTransaction(context.Background(), asActor(buyer), uuid.New(), "")
	require.Equal(t, CodeNotFound, CodeOf(err))

	_, err = engine.CreateTransaction(context.Background(), asActor(seller), listing.ID, "")
	require.Equal(t, CodeValidation, CodeOf(err))

	_, err = engine.CreateTransaction(context.Background(), asActor(buyer), listing.ID, "DOGE")
	require.Equal(t, CodeValidation, CodeOf(err))

	_, err = engine.CreateTransaction(context.Background(), asActor(buyer), listing.ID, "")
	require.NoError(t, err)

	// Listing is now reserved; a second purchase loses.
	rival := seedUser(t, db, models.RoleBuyer)
	_, err = engine.CreateTransaction(context.Background(), asActor(rival), listing.ID, "")
	require.Equal(t, CodeConflict, CodeOf(err))
}

func TestDirectSaleLifecycle(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)
	require.Nil(t, trade.EscrowID)

	// Seller cannot complete an unpaid trade.
	_, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))

	paid, err := engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusPaid, TxHash: "0xabc"})
	require.NoError(t, err)
	require.Equal(t, models.StatusPaid, paid.Status)
	require.Equal(t, "0xabc", paid.TxHash)

	// Buyer cannot complete; only the seller confirms delivery on direct sales.
	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))

	done, err := engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	var reloadedListing models.Listing
	require.NoError(t, db.First(&reloadedListing, "id = ?", listing.ID).Error)
	require.Equal(t, models.ListingSold, reloadedListing.Status)

	var reloadedSeller, reloadedBuyer models.User
	require.NoError(t, db.First(&reloadedSeller, "id = ?", seller.ID).Error)
	require.NoError(t, db.First(&reloadedBuyer, "id = ?", buyer.ID).Error)
	require.EqualValues(t, 1, reloadedSeller.TransactionCount)
	require.EqualValues(t, 1, reloadedSeller.SuccessfulTransactions)
	require.EqualValues(t, 1, reloadedBuyer.TransactionCount)
	require.EqualValues(t, 0, reloadedBuyer.SuccessfulTransactions)

	// Completed is terminal for everyone, admins included.
	admin := seedUser(t, db, models.RoleAdmin)
	_, err = engine.UpdateStatus(ctx, asActor(admin), trade.ID, StatusUpdate{Status: models.StatusRefunded})
	require.Equal(t, CodeForbidden, CodeOf(err))
	_, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))
}

func TestEscrowMediatedFlow(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	agent := seedUser(t, db, models.RoleEscrow)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)
	require.NotNil(t, trade.EscrowID)

	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusPaid})
	require.NoError(t, err)

	// With an agent assigned the seller cannot self-complete.
	_, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))

	held, err := engine.UpdateStatus(ctx, asActor(agent), trade.ID, StatusUpdate{Status: models.StatusInEscrow, EscrowAddress: "0xescrow"})
	require.NoError(t, err)
	require.Equal(t, models.StatusInEscrow, held.Status)
	require.Equal(t, "0xescrow", held.EscrowAddress)

	// An escrow user who is not the designated agent has no say.
	stranger := seedUser(t, db, models.RoleEscrow)
	_, err = engine.UpdateStatus(ctx, asActor(stranger), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))

	done, err := engine.UpdateStatus(ctx, asActor(agent), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, done.Status)
}

func TestDisputeAndResolution(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	agent := seedUser(t, db, models.RoleEscrow)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusPaid})
	require.NoError(t, err)

	disputed, err := engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusDisputed})
	require.NoError(t, err)
	require.Equal(t, models.StatusDisputed, disputed.Status)

	// Neither side can act on a dispute; resolution belongs to the agent.
	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusRefunded})
	require.Equal(t, CodeForbidden, CodeOf(err))
	_, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.Equal(t, CodeForbidden, CodeOf(err))

	refunded, err := engine.UpdateStatus(ctx, asActor(agent), trade.ID, StatusUpdate{Status: models.StatusRefunded})
	require.NoError(t, err)
	require.Equal(t, models.StatusRefunded, refunded.Status)

	var reloaded models.Listing
	require.NoError(t, db.First(&reloaded, "id = ?", listing.ID).Error)
	require.Equal(t, models.ListingAvailable, reloaded.Status)
}

func TestCancelReleasesListing(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	admin := seedUser(t, db, models.RoleAdmin)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)

	cancelled, err := engine.UpdateStatus(ctx, asActor(admin), trade.ID, StatusUpdate{Status: models.StatusCancelled})
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)

	var reloaded models.Listing
	require.NoError(t, db.First(&reloaded, "id = ?", listing.ID).Error)
	require.Equal(t, models.ListingAvailable, reloaded.Status)

	// The listing can be bought again.
	rival := seedUser(t, db, models.RoleBuyer)
	_, err = engine.CreateTransaction(ctx, asActor(rival), listing.ID, "")
	require.NoError(t, err)
}

func TestCanTransitionMatrix(t *testing.T) {
	engine := NewEngine(nil)

	buyerID := uuid.New()
	sellerID := uuid.New()
	agentID := uuid.New()

	buyer := Actor{ID: buyerID, Role: models.RoleBuyer}
	seller := Actor{ID: sellerID, Role: models.RoleSeller}
	agent := Actor{ID: agentID, Role: models.RoleEscrow}
	admin := Actor{ID: uuid.New(), Role: models.RoleAdmin}

	mediated := func(status models.TransactionStatus) *models.Transaction {
		return &models.Transaction{BuyerID: buyerID, SellerID: sellerID, EscrowID: &agentID, Status: status}
	}
	direct := func(status models.TransactionStatus) *models.Transaction {
		return &models.Transaction{BuyerID: buyerID, SellerID: sellerID, Status: status}
	}

	cases := []struct {
		name    string
		actor   Actor
		trade   *models.Transaction
		target  models.TransactionStatus
		allowed bool
	}{
		{"buyer pays pending", buyer, mediated(models.StatusPending), models.StatusPaid, true},
		{"buyer cannot complete", buyer, mediated(models.StatusPaid), models.StatusCompleted, false},
		{"buyer disputes paid", buyer, mediated(models.StatusPaid), models.StatusDisputed, true},
		{"buyer disputes escrowed", buyer, mediated(models.StatusInEscrow), models.StatusDisputed, true},
		{"buyer cannot dispute pending", buyer, mediated(models.StatusPending), models.StatusDisputed, false},
		{"seller completes direct sale", seller, direct(models.StatusPaid), models.StatusCompleted, true},
		{"seller blocked when mediated", seller, mediated(models.StatusPaid), models.StatusCompleted, false},
		{"seller disputes paid", seller, mediated(models.StatusPaid), models.StatusDisputed, true},
		{"seller cannot pay", seller, mediated(models.StatusPending), models.StatusPaid, false},
		{"agent moves to escrow", agent, mediated(models.StatusPaid), models.StatusInEscrow, true},
		{"agent completes", agent, mediated(models.StatusInEscrow), models.StatusCompleted, true},
		{"agent resolves dispute", agent, mediated(models.StatusDisputed), models.StatusRefunded, true},
		{"agent ignored on direct sale", agent, direct(models.StatusPaid), models.StatusCompleted, false},
		{"admin anything", admin, mediated(models.StatusPending), models.StatusRefunded, true},
		{"admin blocked on terminal", admin, mediated(models.StatusCompleted), models.StatusRefunded, false},
		{"same status denied", buyer, mediated(models.StatusPaid), models.StatusPaid, false},
		{"terminal cancelled frozen", admin, mediated(models.StatusCancelled), models.StatusPending, false},
		{"terminal refunded frozen", agent, mediated(models.StatusRefunded), models.StatusCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := engine.CanTransition(tc.actor, tc.trade, tc.target)
			require.Equal(t, tc.allowed, decision.Allowed, decision.Reason)
			if !tc.allowed {
				require.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	agent := seedUser(t, db, models.RoleEscrow)

	for i := 0; i < 3; i++ {
		listing := seedListing(t, db, seller)
		_, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
		require.NoError(t, err)
	}

	page, err := engine.ListTransactions(ctx, asActor(buyer), TransactionFilter{Relation: "buyer"})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	require.EqualValues(t, 3, page.Total)

	page, err = engine.ListTransactions(ctx, asActor(seller), TransactionFilter{Relation: "seller", Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)

	page, err = engine.ListTransactions(ctx, asActor(agent), TransactionFilter{Relation: "escrow"})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)

	_, err = engine.ListTransactions(ctx, asActor(buyer), TransactionFilter{Relation: "escrow"})
	require.Equal(t, CodeForbidden, CodeOf(err))

	_, err = engine.ListTransactions(ctx, asActor(buyer), TransactionFilter{Relation: "observer"})
	require.Equal(t, CodeValidation, CodeOf(err))

	page, err = engine.ListTransactions(ctx, asActor(buyer), TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.EqualValues(t, 2, page.TotalPages)
}

func TestGetTransactionAccess(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	outsider := seedUser(t, db, models.RoleBuyer)
	admin := seedUser(t, db, models.RoleAdmin)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)

	got, err := engine.GetTransaction(ctx, asActor(buyer), trade.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Listing)
	require.NotNil(t, got.Buyer)

	_, err = engine.GetTransaction(ctx, asActor(seller), trade.ID)
	require.NoError(t, err)
	_, err = engine.GetTransaction(ctx, asActor(admin), trade.ID)
	require.NoError(t, err)

	_, err = engine.GetTransaction(ctx, asActor(outsider), trade.ID)
	require.Equal(t, CodeForbidden, CodeOf(err))

	_, err = engine.GetTransaction(ctx, asActor(buyer), uuid.New())
	require.Equal(t, CodeNotFound, CodeOf(err))
}
