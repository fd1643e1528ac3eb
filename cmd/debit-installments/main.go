// Command debit-installments charges due installments: it scans orders with
// a pending installment due on or before the given day and issues one
// zero-click charge per order against the owner's main card. Meant to run
// daily from cron.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/schedule"
	"github.com/xenking/course-checkout/internal/gateway/dummy"
	"github.com/xenking/course-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL   string
		day           string
		currency      string
		webhookSecret string
		workers       int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&day, "day", "", "charge installments due on or before this day, RFC 3339 date (default today)")
	flag.StringVar(&currency, "currency", "EUR", "currency for charges")
	flag.StringVar(&webhookSecret, "payment-webhook-secret", "", "payment provider shared secret (or CHECKOUT_PAYMENT_WEBHOOK_SECRET env)")
	flag.IntVar(&workers, "workers", 4, "parallel charges")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if webhookSecret == "" {
		webhookSecret = os.Getenv("CHECKOUT_PAYMENT_WEBHOOK_SECRET")
	}

	cutoff := time.Now().UTC()
	if day != "" {
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			slog.Error("invalid --day, want YYYY-MM-DD", slog.String("day", day))
			os.Exit(1)
		}
		cutoff = parsed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, currency, webhookSecret, cutoff, workers); err != nil {
		slog.Error("debit run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, currency, webhookSecret string, day time.Time, workers int) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer lg.Sync() //nolint:errcheck // stderr sync failure is harmless

	orderRepo := postgres.NewOrderRepository(pool)
	offeringRepo := postgres.NewOfferingRepository(pool)
	cardRepo := postgres.NewCardRepository(pool)
	gateway := dummy.NewPaymentGateway([]byte(webhookSecret))

	// The tier table only matters at submission; the batch job never
	// recomputes plans, so the default configuration is fine here.
	calc, err := schedule.NewCalculator(schedule.DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "build schedule calculator")
	}

	svc := order.NewService(order.ServiceConfig{
		Currency:          currency,
		ChargeConcurrency: workers,
	}, orderRepo, offeringRepo, offeringRepo, calc, gateway, cardRepo, nil, lg)

	slog.Info("charging due installments", slog.Time("day", day))

	report, err := svc.ChargeDueInstallments(ctx, day)
	if err != nil {
		return err
	}

	slog.Info("debit run finished",
		slog.Int("charged", report.Charged),
		slog.Int("refused", report.Refused),
		slog.Int("skipped", report.Skipped),
		slog.Int("errored", report.Errored),
	)
	return nil
}
