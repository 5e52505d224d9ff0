package storage

import (
	"os"
	"path/filepath"
	"testing"

	"itembay/config"
	"itembay/models"
)

const fixture = `
users:
  - email: admin@example.com
    name: Site Admin
    password: admin-password
    role: ADMIN
  - email: vendor@example.com
    name: Vendor One
    username: vendor1
    password: vendor-password
    role: SELLER
listings:
  - seller_email: vendor@example.com
    title: Starter Pack
    description: Bundle of common skins for new players.
    price: 0.05
    category: SKIN
    rarity: COMMON
`

func TestSeedIsIdempotent(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file:seedtest?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := Seed(db, path); err != nil {
			t.Fatalf("seed pass %d: %v", i+1, err)
		}
	}

	var users, listings int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if err := db.Model(&models.Listing{}).Count(&listings).Error; err != nil {
		t.Fatalf("count listings: %v", err)
	}
	if users != 2 {
		t.Fatalf("users = %d, want 2", users)
	}
	if listings != 1 {
		t.Fatalf("listings = %d, want 1", listings)
	}

	var admin models.User
	if err := db.First(&admin, "email = ?", "admin@example.com").Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if admin.Role != models.RoleAdmin {
		t.Fatalf("role = %s, want ADMIN", admin.Role)
	}
	if admin.HashedPassword == "" || admin.HashedPassword == "admin-password" {
		t.Fatal("password not hashed")
	}

	var listing models.Listing
	if err := db.First(&listing, "title = ?", "Starter Pack").Error; err != nil {
		t.Fatalf("load listing: %v", err)
	}
	if listing.Currency != "ETH" {
		t.Fatalf("currency = %q, want default ETH", listing.Currency)
	}
	if listing.Status != models.ListingAvailable {
		t.Fatalf("status = %s, want AVAILABLE", listing.Status)
	}
}
