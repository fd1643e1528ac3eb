// Command seed-db loads offerings, offering rules and an operator API key
// into the database. Intended for local development and test environments.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/storage/postgres"
)

type ruleJSON struct {
	ID             string           `json:"id"`
	Capacity       *int             `json:"capacity,omitempty"`
	IsActive       *bool            `json:"is_active,omitempty"`
	StartsAt       *time.Time       `json:"starts_at,omitempty"`
	EndsAt         *time.Time       `json:"ends_at,omitempty"`
	DiscountRate   *decimal.Decimal `json:"discount_rate,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	Description    string           `json:"description,omitempty"`
}

type offeringJSON struct {
	ID                 string          `json:"id"`
	CourseID           string          `json:"course_id,omitempty"`
	EnrollmentID       string          `json:"enrollment_id,omitempty"`
	ProductID          string          `json:"product_id"`
	OrganizationID     string          `json:"organization_id"`
	Price              decimal.Decimal `json:"price"`
	CourseStart        *time.Time      `json:"course_start,omitempty"`
	ContractTemplateID string          `json:"contract_template_id,omitempty"`
	Rules              []ruleJSON      `json:"rules,omitempty"`
}

func main() {
	var (
		databaseURL   string
		offeringsFile string
		apiKey        string
		apiKeyPepper  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&offeringsFile, "offerings-file", "db/seed/offerings.json", "path to offerings JSON file")
	flag.StringVar(&apiKey, "api-key", "", "operator API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, offeringsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, offeringsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedOfferings(ctx, pool, offeringsFile); err != nil {
		return errors.Wrap(err, "seed offerings")
	}

	if apiKey != "" {
		if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	return nil
}

const upsertOfferingSQL = `INSERT INTO offerings
	(id, course_id, enrollment_id, product_id, organization_id, price, course_start, contract_template_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		course_id = EXCLUDED.course_id, enrollment_id = EXCLUDED.enrollment_id,
		product_id = EXCLUDED.product_id, organization_id = EXCLUDED.organization_id,
		price = EXCLUDED.price, course_start = EXCLUDED.course_start,
		contract_template_id = EXCLUDED.contract_template_id`

const upsertRuleSQL = `INSERT INTO offering_rules
	(id, offering_id, capacity, is_active, starts_at, ends_at, discount_rate, discount_amount, description)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		capacity = EXCLUDED.capacity, is_active = EXCLUDED.is_active,
		starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
		discount_rate = EXCLUDED.discount_rate, discount_amount = EXCLUDED.discount_amount,
		description = EXCLUDED.description`

const upsertAPIKeySQL = `INSERT INTO api_keys (key_hash, name)
	VALUES ($1, $2)
	ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name`

func seedOfferings(ctx context.Context, pool *pgxpool.Pool, offeringsFile string) error {
	slog.Info("reading offerings file", slog.String("path", offeringsFile))

	data, err := os.ReadFile(offeringsFile)
	if err != nil {
		return errors.Wrap(err, "read offerings file")
	}

	var offerings []offeringJSON
	if err := json.Unmarshal(data, &offerings); err != nil {
		return errors.Wrap(err, "parse offerings JSON")
	}

	slog.Info("upserting offerings", slog.Int("count", len(offerings)))

	for _, off := range offerings {
		if _, err := pool.Exec(ctx, upsertOfferingSQL,
			off.ID, off.CourseID, off.EnrollmentID, off.ProductID, off.OrganizationID,
			off.Price, off.CourseStart, off.ContractTemplateID,
		); err != nil {
			return errors.Wrapf(err, "upsert offering %s", off.ID)
		}

		for _, rule := range off.Rules {
			active := true
			if rule.IsActive != nil {
				active = *rule.IsActive
			}
			if _, err := pool.Exec(ctx, upsertRuleSQL,
				rule.ID, off.ID, rule.Capacity, active, rule.StartsAt, rule.EndsAt,
				rule.DiscountRate, rule.DiscountAmount, rule.Description,
			); err != nil {
				return errors.Wrapf(err, "upsert rule %s of offering %s", rule.ID, off.ID)
			}
		}

		slog.Info("upserted offering",
			slog.String("id", off.ID), slog.Int("rules", len(off.Rules)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding operator API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL, keyHash, "Default operator key"); err != nil {
		return errors.Wrap(err, "upsert operator API key")
	}

	return nil
}
