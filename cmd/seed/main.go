package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/indocomsoft/acquity/internal/config"
	"github.com/indocomsoft/acquity/internal/db"
	"github.com/indocomsoft/acquity/internal/models"
)

// Seed the database with development fixtures: an approved seller and buyer,
// a security, and a pair of pending orders.
func main() {
	ctx := context.Background()

	cfg := config.Load()
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	existing, err := database.GetSecurities(ctx)
	if err != nil {
		log.Fatalf("Failed to check securities: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("Database already has %d securities. No need to seed.\n", len(existing))
		os.Exit(0)
	}

	security, err := database.CreateSecurity(ctx, "Acquity Pte Ltd")
	if err != nil {
		log.Fatalf("Failed to create security: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("acquity"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	seller, err := database.CreateUser(ctx, "seller@acquity.io", "Sally Seller", string(hash))
	if err != nil {
		log.Fatalf("Failed to create seller: %v", err)
	}
	if err := database.SetUserCapabilities(ctx, seller.ID, false, true); err != nil {
		log.Fatalf("Failed to approve seller: %v", err)
	}

	buyer, err := database.CreateUser(ctx, "buyer@acquity.io", "Billy Buyer", string(hash))
	if err != nil {
		log.Fatalf("Failed to create buyer: %v", err)
	}
	if err := database.SetUserCapabilities(ctx, buyer.ID, true, false); err != nil {
		log.Fatalf("Failed to approve buyer: %v", err)
	}

	sellOrder, err := database.CreateOrder(ctx, &models.Order{
		UserID:         seller.ID,
		SecurityID:     security.ID,
		Side:           models.SideSell,
		NumberOfShares: 20,
		Price:          5,
	})
	if err != nil {
		log.Fatalf("Failed to create sell order: %v", err)
	}

	buyOrder, err := database.CreateOrder(ctx, &models.Order{
		UserID:         buyer.ID,
		SecurityID:     security.ID,
		Side:           models.SideBuy,
		NumberOfShares: 20,
		Price:          5,
	})
	if err != nil {
		log.Fatalf("Failed to create buy order: %v", err)
	}

	fmt.Printf("Seeded security %s, seller %s, buyer %s, orders %s/%s\n",
		security.ID, seller.ID, buyer.ID, sellOrder.ID, buyOrder.ID)
}
