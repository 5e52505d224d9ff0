package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"itembay/market"
	"itembay/models"
)

type listingPage struct {
	Listings   []models.Listing `json:"listings"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int64            `json:"totalPages"`
}

// ListListings returns the public catalogue with optional filters. Deleted
// listings never appear here.
func (s *Server) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 12
	}
	if limit > 100 {
		limit = 100
	}

	// Browse shows purchasable items by default; an explicit status filter can
	// widen the view to reserved or sold listings, never to deleted ones.
	query := s.db.WithContext(r.Context()).Model(&models.Listing{})
	if status := strings.ToUpper(strings.TrimSpace(q.Get("status"))); status != "" {
		if models.ListingStatus(status) == models.ListingDeleted {
			s.writeError(w, market.Invalid("unknown status filter", map[string]string{"status": status}))
			return
		}
		query = query.Where("status = ?", status)
	} else {
		query = query.Where("status = ?", models.ListingAvailable)
	}

	if cat := strings.ToUpper(strings.TrimSpace(q.Get("category"))); cat != "" {
		if !models.Category(cat).Valid() {
			s.writeError(w, market.Invalid("unknown category", map[string]string{"category": cat}))
			return
		}
		query = query.Where("category = ?", cat)
	}
	if rar := strings.ToUpper(strings.TrimSpace(q.Get("rarity"))); rar != "" {
		if !models.Rarity(rar).Valid() {
			s.writeError(w, market.Invalid("unknown rarity", map[string]string{"rarity": rar}))
			return
		}
		query = query.Where("rarity = ?", rar)
	}
	if raw := q.Get("minPrice"); raw != "" {
		min, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, market.Invalid("invalid minPrice", map[string]string{"minPrice": raw}))
			return
		}
		query = query.Where("price >= ?", min)
	}
	if raw := q.Get("maxPrice"); raw != "" {
		max, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, market.Invalid("invalid maxPrice", map[string]string{"maxPrice": raw}))
			return
		}
		query = query.Where("price <= ?", max)
	}
	if seller := strings.TrimSpace(q.Get("sellerId")); seller != "" {
		id, err := uuid.Parse(seller)
		if err != nil {
			s.writeError(w, market.Invalid("invalid sellerId", map[string]string{"sellerId": seller}))
			return
		}
		query = query.Where("seller_id = ?", id)
	}
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.writeError(w, market.Internal(err))
		return
	}

	order := "created_at DESC"
	switch q.Get("sort") {
	case "price_asc":
		order = "price ASC"
	case "price_desc":
		order = "price DESC"
	case "oldest":
		order = "created_at ASC"
	}

	var listings []models.Listing
	if err := query.Preload("Seller").
		Order(order).
		Limit(limit).Offset((page - 1) * limit).
		Find(&listings).Error; err != nil {
		s.writeError(w, market.Internal(err))
		return
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	s.writeJSON(w, http.StatusOK, listingPage{
		Listings:   listings,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	})
}

// GetListing returns one listing by id with its seller profile.
func (s *Server) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid listing id", nil))
		return
	}

	var listing models.Listing
	if err := s.db.WithContext(r.Context()).Preload("Seller").
		First(&listing, "id = ? AND status <> ?", id, models.ListingDeleted).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, market.NotFound("listing not found"))
			return
		}
		s.writeError(w, market.Internal(err))
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

type listingRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Currency    *string  `json:"currency"`
	Images      []string `json:"images"`
	Category    *string  `json:"category"`
	Rarity      *string  `json:"rarity"`
	Status      *string  `json:"status"`
}

// CreateListing publishes a new item for sale. Sellers and admins only.
func (s *Server) CreateListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req listingRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fields := map[string]string{}
	var title, description, currency string
	var price float64
	if req.Title == nil || len(strings.TrimSpace(*req.Title)) < 5 {
		fields["title"] = "must be at least 5 characters"
	} else {
		title = strings.TrimSpace(*req.Title)
	}
	if req.Description == nil || len(strings.TrimSpace(*req.Description)) < 10 {
		fields["description"] = "must be at least 10 characters"
	} else {
		description = strings.TrimSpace(*req.Description)
	}
	if req.Price == nil || *req.Price <= 0 {
		fields["price"] = "must be greater than zero"
	} else {
		price = *req.Price
	}
	currency = "ETH"
	if req.Currency != nil && *req.Currency != "" {
		currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency != "ETH" && currency != "WETH" && currency != "USDC" {
			fields["currency"] = "unsupported currency"
		}
	}
	category := models.CategoryOther
	if req.Category != nil && *req.Category != "" {
		category = models.Category(strings.ToUpper(strings.TrimSpace(*req.Category)))
		if !category.Valid() {
			fields["category"] = "unknown category"
		}
	}
	rarity := models.RarityCommon
	if req.Rarity != nil && *req.Rarity != "" {
		rarity = models.Rarity(strings.ToUpper(strings.TrimSpace(*req.Rarity)))
		if !rarity.Valid() {
			fields["rarity"] = "unknown rarity"
		}
	}
	if len(req.Images) == 0 {
		fields["images"] = "at least one image is required"
	} else if len(req.Images) > 10 {
		fields["images"] = "at most 10 images"
	}
	if len(fields) > 0 {
		s.writeError(w, market.Invalid("invalid listing", fields))
		return
	}

	now := s.now()
	listing := models.Listing{
		ID:          uuid.New(),
		SellerID:    actor.ID,
		Title:       title,
		Description: description,
		Price:       price,
		Currency:    currency,
		Images:      models.StringArray(req.Images),
		Category:    category,
		Rarity:      rarity,
		Status:      models.ListingAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(r.Context()).Create(&listing).Error; err != nil {
		s.writeError(w, market.Internal(err))
		return
	}
	s.writeJSON(w, http.StatusCreated, listing)
}

// UpdateListing applies a partial update. Only the owning seller or an admin
// may edit, and only while no trade holds the listing.
func (s *Server) UpdateListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid listing id", nil))
		return
	}

	var req listingRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fields := map[string]string{}
	patch := map[string]interface{}{}
	if req.Title != nil {
		if len(strings.TrimSpace(*req.Title)) < 5 {
			fields["title"] = "must be at least 5 characters"
		}
		patch["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		if len(strings.TrimSpace(*req.Description)) < 10 {
			fields["description"] = "must be at least 10 characters"
		}
		patch["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			fields["price"] = "must be greater than zero"
		}
		patch["price"] = *req.Price
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency != "ETH" && currency != "WETH" && currency != "USDC" {
			fields["currency"] = "unsupported currency"
		}
		patch["currency"] = currency
	}
	if req.Category != nil {
		category := models.Category(strings.ToUpper(strings.TrimSpace(*req.Category)))
		if !category.Valid() {
			fields["category"] = "unknown category"
		}
		patch["category"] = category
	}
	if req.Rarity != nil {
		rarity := models.Rarity(strings.ToUpper(strings.TrimSpace(*req.Rarity)))
		if !rarity.Valid() {
			fields["rarity"] = "unknown rarity"
		}
		patch["rarity"] = rarity
	}
	if req.Images != nil {
		if len(req.Images) == 0 || len(req.Images) > 10 {
			fields["images"] = "must contain between 1 and 10 images"
		}
		patch["images"] = models.StringArray(req.Images)
	}
	if req.Status != nil {
		status := models.ListingStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		// Sellers may only park or relist; lifecycle states belong to trades.
		if status != models.ListingAvailable && status != models.ListingInactive {
			fields["status"] = "must be AVAILABLE or INACTIVE"
		}
		patch["status"] = status
	}
	if len(fields) > 0 {
		s.writeError(w, market.Invalid("invalid listing update", fields))
		return
	}
	if len(patch) == 0 {
		s.writeError(w, market.Invalid("no fields to update", nil))
		return
	}
	patch["updated_at"] = s.now()

	var listing models.Listing
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&listing, "id = ? AND status <> ?", id, models.ListingDeleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return market.NotFound("listing not found")
			}
			return market.Internal(err)
		}
		if listing.SellerID != actor.ID && actor.Role != models.RoleAdmin {
			return market.Forbidden("you can only edit your own listings")
		}
		if listing.Status == models.ListingPending {
			return market.Conflict("listing is reserved by an active transaction")
		}
		if err := tx.Model(&listing).Updates(patch).Error; err != nil {
			return market.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

// DeleteListing soft-deletes a listing. The row stays for transaction
// history; a listing with an active trade cannot be removed.
func (s *Server) DeleteListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid listing id", nil))
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var listing models.Listing
		if err := tx.First(&listing, "id = ? AND status <> ?", id, models.ListingDeleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return market.NotFound("listing not found")
			}
			return market.Internal(err)
		}
		if listing.SellerID != actor.ID && actor.Role != models.RoleAdmin {
			return market.Forbidden("you can only delete your own listings")
		}

		var active int64
		if err := tx.Model(&models.Transaction{}).
			Where("listing_id = ? AND status IN ?", listing.ID, models.ActiveStatuses()).
			Count(&active).Error; err != nil {
			return market.Internal(err)
		}
		if active > 0 {
			return market.Conflict("listing has an active transaction")
		}

		return tx.Model(&listing).Updates(map[string]interface{}{
			"status":     models.ListingDeleted,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
