// seed upserts the sample plan catalog and a demo subject for local testing.
// Idempotent: plans are matched by name and the demo user is created once.
package main

import (
	"context"
	"fmt"
	"log"

	catalogdomain "esim-gateway/internal/catalog/domain"
	catalogrepo "esim-gateway/internal/catalog/repository"
	"esim-gateway/internal/config"
	"esim-gateway/internal/db"
	"esim-gateway/internal/security"
	userdomain "esim-gateway/internal/user/domain"
	userrepo "esim-gateway/internal/user/repository"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "password123"
	demoPhone    = "+85512345678"
)

var samplePlans = []catalogdomain.Plan{
	{Name: "Starter 1GB", DataLimit: "1GB", ValidityDays: 7, PriceUSDCents: 299, PriceKHRRiel: 12000, Active: true},
	{Name: "Traveler 5GB", DataLimit: "5GB", ValidityDays: 15, PriceUSDCents: 999, PriceKHRRiel: 41000, Active: true},
	{Name: "Explorer 10GB", DataLimit: "10GB", ValidityDays: 30, PriceUSDCents: 1599, PriceKHRRiel: 65500, Active: true},
	{Name: "Unlimited 30 days", DataLimit: "Unlimited", ValidityDays: 30, PriceUSDCents: 2999, PriceKHRRiel: 123000, Active: true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()

	plans := catalogrepo.NewPostgresRepository(conn)
	for i := range samplePlans {
		p := samplePlans[i]
		if err := plans.Upsert(ctx, &p); err != nil {
			log.Fatalf("upsert plan %q: %v", p.Name, err)
		}
		log.Printf("plan %d: %s ($%s)", p.ID, p.Name, p.PriceUSD())
	}

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, demoEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Demo user %s already exists. Skipping.", demoEmail)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(demoPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	u := &userdomain.User{Email: demoEmail, PasswordHash: hash, Phone: demoPhone}
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("create demo user: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Demo login: %s / %s\n", demoEmail, demoPassword)
}
