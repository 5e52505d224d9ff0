package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"itembay/models"
)

// SeedFile is the YAML fixture layout applied at startup.
type SeedFile struct {
	Users    []SeedUser    `yaml:"users"`
	Listings []SeedListing `yaml:"listings"`
}

// SeedUser declares an account to ensure exists.
type SeedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// SeedListing declares a listing to ensure exists, keyed by seller email.
type SeedListing struct {
	SellerEmail string   `yaml:"seller_email"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Price       float64  `yaml:"price"`
	Currency    string   `yaml:"currency"`
	Images      []string `yaml:"images"`
	Category    string   `yaml:"category"`
	Rarity      string   `yaml:"rarity"`
}

// Seed loads the fixture at path and inserts any users or listings that do
// not already exist. Existing rows are left untouched.
func Seed(db *gorm.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var fixture SeedFile
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		byEmail := make(map[string]uuid.UUID, len(fixture.Users))

		for _, u := range fixture.Users {
			var existing models.User
			err := tx.First(&existing, "email = ?", u.Email).Error
			if err == nil {
				byEmail[u.Email] = existing.ID
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
			hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash seed password for %s: %w", u.Email, err)
			}
			role := models.UserRole(u.Role)
			if role == "" {
				role = models.RoleBuyer
			}
			user := models.User{
				ID:             uuid.New(),
				Email:          u.Email,
				Name:           u.Name,
				Username:       u.Username,
				HashedPassword: string(hashed),
				Role:           role,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			byEmail[u.Email] = user.ID
		}

		for _, l := range fixture.Listings {
			sellerID, ok := byEmail[l.SellerEmail]
			if !ok {
				var seller models.User
				if err := tx.First(&seller, "email = ?", l.SellerEmail).Error; err != nil {
					return fmt.Errorf("seed listing %q: unknown seller %s", l.Title, l.SellerEmail)
				}
				sellerID = seller.ID
			}
			var count int64
			if err := tx.Model(&models.Listing{}).
				Where("seller_id = ? AND title = ?", sellerID, l.Title).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			currency := l.Currency
			if currency == "" {
				currency = "ETH"
			}
			listing := models.Listing{
				ID:          uuid.New(),
				SellerID:    sellerID,
				Title:       l.Title,
				Description: l.Description,
				Price:       l.Price,
				Currency:    currency,
				Images:      models.StringArray(l.Images),
				Category:    models.Category(l.Category),
				Rarity:      models.Rarity(l.Rarity),
				Status:      models.ListingAvailable,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Create(&listing).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
