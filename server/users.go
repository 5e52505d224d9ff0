package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"itembay/market"
	"itembay/models"
)

// Register creates a marketplace account. New users default to the buyer role.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fields := map[string]string{}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if len(req.Name) < 2 {
		fields["name"] = "must be at least 2 characters"
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "invalid email address"
	}
	if len(req.Password) < 8 {
		fields["password"] = "must be at least 8 characters"
	}
	role := models.UserRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role == "" {
		role = models.RoleBuyer
	}
	if role != models.RoleBuyer && role != models.RoleSeller {
		fields["role"] = "must be BUYER or SELLER"
	}
	if len(fields) > 0 {
		s.writeError(w, market.Invalid("invalid registration", fields))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeError(w, market.Internal(err))
		return
	}

	now := s.now()
	user := models.User{
		ID:             uuid.New(),
		Email:          req.Email,
		Name:           req.Name,
		HashedPassword: string(hashed),
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return market.Internal(err)
		}
		if count > 0 {
			return market.Conflict("an account with this email already exists")
		}
		if err := tx.Create(&user).Error; err != nil {
			return market.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials and issues a bearer token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := s.db.WithContext(r.Context()).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, market.Unauthorized("invalid email or password"))
			return
		}
		s.writeError(w, market.Internal(err))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		s.writeError(w, market.Unauthorized("invalid email or password"))
		return
	}

	token, err := s.auth.Mint(user.ID, user.Role)
	if err != nil {
		s.writeError(w, market.Internal(err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// GetProfile returns the authenticated user's account.
func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var user models.User
	if err := s.db.WithContext(r.Context()).First(&user, "id = ?", actor.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, market.NotFound("user not found"))
			return
		}
		s.writeError(w, market.Internal(err))
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// UpdateProfile applies a partial update to the authenticated user's account.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Name          *string `json:"name"`
		Username      *string `json:"username"`
		Bio           *string `json:"bio"`
		WalletAddress *string `json:"walletAddress"`
		Image         *string `json:"image"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fields := map[string]string{}
	patch := map[string]interface{}{}
	if req.Name != nil {
		if len(strings.TrimSpace(*req.Name)) < 2 {
			fields["name"] = "must be at least 2 characters"
		}
		patch["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Username != nil {
		if len(strings.TrimSpace(*req.Username)) < 3 {
			fields["username"] = "must be at least 3 characters"
		}
		patch["username"] = strings.TrimSpace(*req.Username)
	}
	if req.Bio != nil {
		if len(*req.Bio) > 500 {
			fields["bio"] = "cannot exceed 500 characters"
		}
		patch["bio"] = *req.Bio
	}
	if req.WalletAddress != nil {
		patch["wallet_address"] = strings.TrimSpace(*req.WalletAddress)
	}
	if req.Image != nil {
		patch["image"] = strings.TrimSpace(*req.Image)
	}
	if len(fields) > 0 {
		s.writeError(w, market.Invalid("invalid profile update", fields))
		return
	}
	if len(patch) == 0 {
		s.writeError(w, market.Invalid("no fields to update", nil))
		return
	}
	patch["updated_at"] = s.now()

	var user models.User
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", actor.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return market.NotFound("user not found")
			}
			return market.Internal(err)
		}
		if err := tx.Model(&user).Updates(patch).Error; err != nil {
			return market.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// BecomeSeller upgrades a buyer account to seller status.
func (s *Server) BecomeSeller(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var user models.User
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", actor.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return market.NotFound("user not found")
			}
			return market.Internal(err)
		}
		if user.Role != models.RoleBuyer {
			return market.Conflict("only buyers can upgrade to seller status")
		}
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"role":       models.RoleSeller,
			"updated_at": s.now(),
		}).Error; err != nil {
			return market.Internal(err)
		}
		user.Role = models.RoleSeller
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}
