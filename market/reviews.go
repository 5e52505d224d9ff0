package market

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"itembay/models"
)

// ReviewInput carries the fields of a review submission.
type ReviewInput struct {
	TransactionID uuid.UUID
	TargetUserID  uuid.UUID
	Rating        int
	Comment       string
}

// CreateReview enforces the eligibility gate: the referenced transaction must
// be COMPLETED, the reviewer must be one of its two sides, the target must be
// the other side, and each participant reviews a transaction at most once.
// The target's average rating is recomputed in the same commit.
func (e *Engine) CreateReview(ctx context.Context, reviewer Actor, in ReviewInput) (*models.Review, error) {
	fields := map[string]string{}
	if in.Rating < 1 || in.Rating > 5 {
		fields["rating"] = "must be between 1 and 5"
	}
	if len(in.Comment) > 500 {
		fields["comment"] = "comment too long"
	}
	if len(fields) > 0 {
		return nil, Invalid("invalid review", fields)
	}

	var out models.Review
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade models.Transaction
		if err := tx.First(&trade, "id = ?", in.TransactionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("transaction not found")
			}
			return Internal(err)
		}
		if trade.Status != models.StatusCompleted {
			return Conflict("can only review completed transactions")
		}
		if reviewer.ID != trade.BuyerID && reviewer.ID != trade.SellerID {
			return Forbidden("you can only review transactions you are involved in")
		}
		if reviewer.ID == trade.BuyerID && in.TargetUserID != trade.SellerID {
			return Invalid("buyer can only review the seller", nil)
		}
		if reviewer.ID == trade.SellerID && in.TargetUserID != trade.BuyerID {
			return Invalid("seller can only review the buyer", nil)
		}

		var existing int64
		if err := tx.Model(&models.Review{}).
			Where("reviewer_id = ? AND transaction_id = ?", reviewer.ID, in.TransactionID).
			Count(&existing).Error; err != nil {
			return Internal(err)
		}
		if existing > 0 {
			return Conflict("you have already reviewed this transaction")
		}

		review := models.Review{
			ID:            uuid.New(),
			TransactionID: in.TransactionID,
			ReviewerID:    reviewer.ID,
			TargetUserID:  in.TargetUserID,
			Rating:        in.Rating,
			Comment:       in.Comment,
			CreatedAt:     e.now(),
		}
		if err := tx.Create(&review).Error; err != nil {
			return Internal(err)
		}

		var avg float64
		if err := tx.Model(&models.Review{}).
			Where("target_user_id = ?", in.TargetUserID).
			Select("COALESCE(AVG(rating), 0)").
			Scan(&avg).Error; err != nil {
			return Internal(err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", in.TargetUserID).
			Update("rating", avg).Error; err != nil {
			return Internal(err)
		}

		if err := e.appendEvent(tx, trade.ID, reviewer.ID, "review.created", ""); err != nil {
			return err
		}
		out = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReviewStats summarises a user's received reviews.
type ReviewStats struct {
	AverageRating float64 `json:"averageRating"`
	TotalReviews  int64   `json:"totalReviews"`
}

// ReviewPage is one page of reviews for a user.
type ReviewPage struct {
	Reviews    []models.Review `json:"reviews"`
	Stats      ReviewStats     `json:"stats"`
	Total      int64           `json:"total"`
	PageNum    int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int64           `json:"totalPages"`
}

// ListReviews returns reviews targeting a user, newest first, with stats.
func (e *Engine) ListReviews(ctx context.Context, targetUserID uuid.UUID, pageNum, limit int) (*ReviewPage, error) {
	pageNum, limit = normalizePage(pageNum, limit)

	q := e.db.WithContext(ctx).Model(&models.Review{}).Where("target_user_id = ?", targetUserID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Internal(err)
	}

	var avg float64
	if total > 0 {
		if err := e.db.WithContext(ctx).Model(&models.Review{}).
			Where("target_user_id = ?", targetUserID).
			Select("COALESCE(AVG(rating), 0)").
			Scan(&avg).Error; err != nil {
			return nil, Internal(err)
		}
	}

	var reviews []models.Review
	if err := q.Preload("Reviewer").
		Order("created_at DESC").
		Limit(limit).Offset((pageNum - 1) * limit).
		Find(&reviews).Error; err != nil {
		return nil, Internal(err)
	}

	return &ReviewPage{
		Reviews:    reviews,
		Stats:      ReviewStats{AverageRating: avg, TotalReviews: total},
		Total:      total,
		PageNum:    pageNum,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}
