package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/logger"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
)

// DemoOwner owns the seeded data unless -owner is given
const DemoOwner = "00000000-0000-0000-0000-000000000001"

// Command-line flags
var (
	ownerFlag      = flag.String("owner", DemoOwner, "owner id the data is created for")
	customersCount = flag.Int("customers", 50, "number of customers to create")
	withCampaigns  = flag.Bool("campaigns", true, "create demo campaigns")
	clearData      = flag.Bool("clear", false, "delete the owner's data before inserting")
)

var (
	firstNames = []string{"Asha", "Vikram", "Meera", "Rohan", "Priya", "Arjun", "Kavya", "Ishaan", "Ananya", "Dev", "Nisha", "Kabir"}
	lastNames  = []string{"Rao", "Shah", "Iyer", "Das", "Nair", "Mehta", "Kapoor", "Reddy", "Joshi", "Gupta"}
	locations  = []string{"Pune", "Mumbai", "Chennai", "Kolkata", "Delhi", "Bengaluru", "Hyderabad", "Jaipur"}
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	owner, err := uuid.Parse(*ownerFlag)
	if err != nil {
		log.Fatal("invalid -owner", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	if *clearData {
		if err := clearOwner(ctx, db, owner); err != nil {
			log.Fatal("failed to clear seed data", zap.Error(err))
		}
		log.Info("seed data cleared", zap.String("owner", owner.String()))
	}

	created, err := seedCustomers(ctx, db, buildCustomers(owner, *customersCount, time.Now()))
	if err != nil {
		log.Fatal("failed to seed customers", zap.Error(err))
	}
	log.Info("customers seeded", zap.Int("created", created), zap.Int("requested", *customersCount))

	if *withCampaigns {
		campaigns := repository.NewCampaignRepository(db)
		for _, c := range demoCampaigns(owner, time.Now()) {
			if err := campaigns.Create(ctx, c); err != nil {
				log.Fatal("failed to seed campaign", zap.Error(err))
			}
			log.Info("campaign seeded",
				zap.String("campaign_id", c.ID.String()),
				zap.String("status", string(c.Status)))
		}
	}
}

// clearOwner removes every campaign and customer of owner. Logs go with their
// campaigns.
func clearOwner(ctx context.Context, db *sql.DB, owner uuid.UUID) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("failed to delete campaigns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("failed to delete customers: %w", err)
	}
	return tx.Commit()
}

// buildCustomers generates count deterministic customers. Some optional
// fields are left empty so NULL handling in rules gets exercised.
func buildCustomers(owner uuid.UUID, count int, now time.Time) []*models.Customer {
	customers := make([]*models.Customer, 0, count)
	for i := 1; i <= count; i++ {
		c := &models.Customer{
			ID:            uuid.New(),
			OwnerID:       owner,
			Name:          firstNames[i%len(firstNames)] + " " + lastNames[i%len(lastNames)],
			LifetimeSpend: float64((i * 737) % 15000),
			TotalOrders:   (i * 7) % 30,
		}
		email := fmt.Sprintf("customer%03d@example.com", i)
		c.Email = &email
		if i%4 != 0 {
			loc := locations[i%len(locations)]
			c.Location = &loc
		}
		if i%5 != 0 {
			phone := fmt.Sprintf("+9198000%05d", i)
			c.Phone = &phone
		}
		if c.TotalOrders > 0 {
			last := now.AddDate(0, 0, -((i * 11) % 120))
			c.LastOrderDate = &last
		}
		customers = append(customers, c)
	}
	return customers
}

func seedCustomers(ctx context.Context, db *sql.DB, customers []*models.Customer) (int, error) {
	query := `
		INSERT INTO customers (id, owner_id, name, email, phone, location, lifetime_spend, total_orders, last_order_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, email) DO NOTHING
	`

	created := 0
	for _, c := range customers {
		result, err := db.ExecContext(ctx, query,
			c.ID, c.OwnerID, c.Name, c.Email, c.Phone, c.Location, c.LifetimeSpend, c.TotalOrders, c.LastOrderDate)
		if err != nil {
			return created, fmt.Errorf("failed to insert customer %s: %w", *c.Email, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

// demoCampaigns returns one immediate and one scheduled campaign. Both are
// stored without being enqueued, so the immediate one stays PENDING until it
// is re-submitted through the API.
func demoCampaigns(owner uuid.UUID, now time.Time) []*models.Campaign {
	highValue := "High value customers"
	winBack := "Win back"
	scheduledAt := now.Add(10 * time.Minute)

	return []*models.Campaign{
		{
			OwnerID: owner,
			Name:    &highValue,
			Rules: models.RuleSet{Logic: models.LogicAnd, Rules: []models.Rule{
				{Field: "lifetimeSpend", Operator: ">", Value: 5000.0},
			}},
			Message:      "Hi {name}, thanks for shopping with us. Enjoy early access in {location}!",
			DeliveryMode: models.DeliveryModeImmediate,
			Status:       models.CampaignStatusPending,
			Tags:         []string{},
		},
		{
			OwnerID: owner,
			Name:    &winBack,
			Rules: models.RuleSet{Logic: models.LogicOr, Rules: []models.Rule{
				{Field: "totalOrders", Operator: "<", Value: 2.0},
				{Field: "lastOrderDate", Operator: "=", Value: nil},
			}},
			Message:      "We miss you {name}! Here is 15% off your next order.",
			DeliveryMode: models.DeliveryModeScheduled,
			ScheduledAt:  &scheduledAt,
			Status:       models.CampaignStatusScheduled,
			Tags:         []string{},
		},
	}
}
