package market

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"itembay/models"
)

func completedTrade(t *testing.T, db *gorm.DB, engine *Engine) (models.User, models.User, *models.Transaction) {
	t.Helper()
	ctx := context.Background()
	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusPaid})
	require.NoError(t, err)
	trade, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	return buyer, seller, trade
}

func TestCreateReviewGate(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	seller := seedUser(t, db, models.RoleSeller)
	buyer := seedUser(t, db, models.RoleBuyer)
	listing := seedListing(t, db, seller)

	trade, err := engine.CreateTransaction(ctx, asActor(buyer), listing.ID, "")
	require.NoError(t, err)

	// Pending trades cannot be reviewed.
	_, err = engine.CreateReview(ctx, asActor(buyer), ReviewInput{
		TransactionID: trade.ID, TargetUserID: seller.ID, Rating: 5,
	})
	require.Equal(t, CodeConflict, CodeOf(err))

	_, err = engine.UpdateStatus(ctx, asActor(buyer), trade.ID, StatusUpdate{Status: models.StatusPaid})
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, asActor(seller), trade.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)

	// Outsiders are rejected.
	outsider := seedUser(t, db, models.RoleBuyer)
	_, err = engine.CreateReview(ctx, asActor(outsider), ReviewInput{
		TransactionID: trade.ID, TargetUserID: seller.ID, Rating: 5,
	})
	require.Equal(t, CodeForbidden, CodeOf(err))

	// The buyer must target the seller.
	_, err = engine.CreateReview(ctx, asActor(buyer), ReviewInput{
		TransactionID: trade.ID, TargetUserID: buyer.ID, Rating: 5,
	})
	require.Equal(t, CodeValidation, CodeOf(err))

	review, err := engine.CreateReview(ctx, asActor(buyer), ReviewInput{
		TransactionID: trade.ID, TargetUserID: seller.ID, Rating: 4, Comment: "smooth trade",
	})
	require.NoError(t, err)
	require.Equal(t, 4, review.Rating)

	// One review per participant per trade.
	_, err = engine.CreateReview(ctx, asActor(buyer), ReviewInput{
		TransactionID: trade.ID, TargetUserID: seller.ID, Rating: 5,
	})
	require.Equal(t, CodeConflict, CodeOf(err))

	// The seller reviews the buyer independently.
	_, err = engine.CreateReview(ctx, asActor(seller), ReviewInput{
		TransactionID: trade.ID, TargetUserID: buyer.ID, Rating: 5,
	})
	require.NoError(t, err)
}

func TestCreateReviewValidation(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()
	buyer := seedUser(t, db, models.RoleBuyer)

	_, err := engine.CreateReview(ctx, asActor(buyer), ReviewInput{TransactionID: uuid.New(), Rating: 0})
	require.Equal(t, CodeValidation, CodeOf(err))

	_, err = engine.CreateReview(ctx, asActor(buyer), ReviewInput{TransactionID: uuid.New(), Rating: 6})
	require.Equal(t, CodeValidation, CodeOf(err))

	_, err = engine.CreateReview(ctx, asActor(buyer), ReviewInput{TransactionID: uuid.New(), Rating: 3})
	require.Equal(t, CodeNotFound, CodeOf(err))
}

func TestReviewUpdatesTargetRating(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	buyerA, seller, tradeA := completedTrade(t, db, engine)

	_, err := engine.CreateReview(ctx, asActor(buyerA), ReviewInput{
		TransactionID: tradeA.ID, TargetUserID: seller.ID, Rating: 5,
	})
	require.NoError(t, err)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", seller.ID).Error)
	require.InDelta(t, 5.0, reloaded.Rating, 0.001)

	// A second trade for the same seller pulls the average down.
	buyerB := seedUser(t, db, models.RoleBuyer)
	listing := seedListing(t, db, seller)
	tradeB, err := engine.CreateTransaction(ctx, asActor(buyerB), listing.ID, "")
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, asActor(buyerB), tradeB.ID, StatusUpdate{Status: models.StatusPaid})
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, asActor(seller), tradeB.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	_, err = engine.CreateReview(ctx, asActor(buyerB), ReviewInput{
		TransactionID: tradeB.ID, TargetUserID: seller.ID, Rating: 2,
	})
	require.NoError(t, err)

	require.NoError(t, db.First(&reloaded, "id = ?", seller.ID).Error)
	require.InDelta(t, 3.5, reloaded.Rating, 0.001)
}

func TestListReviews(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, WithEscrowAssigner(NoEscrowAssigner{}))
	ctx := context.Background()

	buyer, seller, trade := completedTrade(t, db, engine)
	_, err := engine.CreateReview(ctx, asActor(buyer), ReviewInput{
		TransactionID: trade.ID, TargetUserID: seller.ID, Rating: 4, Comment: "good",
	})
	require.NoError(t, err)

	page, err := engine.ListReviews(ctx, seller.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Reviews, 1)
	require.EqualValues(t, 1, page.Stats.TotalReviews)
	require.InDelta(t, 4.0, page.Stats.AverageRating, 0.001)
	require.NotNil(t, page.Reviews[0].Reviewer)
	require.Equal(t, buyer.ID, page.Reviews[0].Reviewer.ID)

	empty, err := engine.ListReviews(ctx, buyer.ID, 1, 10)
	require.NoError(t, err)
	require.Empty(t, empty.Reviews)
	require.EqualValues(t, 0, empty.Stats.TotalReviews)
}
