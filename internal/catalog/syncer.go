package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/logging"
)

// TxRunner scopes the sync to one transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error
}

// ProductWriter persists catalog entries keyed by SKU.
type ProductWriter interface {
	Upsert(ctx context.Context, q db.Querier, product *db.Product) error
}

// Syncer upserts a validated seed file. Existing products keep their live
// stock; only name, price and the active flag are refreshed.
type Syncer struct {
	runner    TxRunner
	products  ProductWriter
	parser    *Parser
	validator *Validator
	logger    *slog.Logger
}

func NewSyncer(runner TxRunner, products ProductWriter, logger *slog.Logger) *Syncer {
	return &Syncer{
		runner:    runner,
		products:  products,
		parser:    NewParser(),
		validator: NewValidator(),
		logger:    logging.FromContext(context.Background(), logger).With("component", "catalog"),
	}
}

// SyncFile loads, validates and applies the seed file at path.
func (s *Syncer) SyncFile(ctx context.Context, path string) (int, error) {
	seed, err := s.parser.ParseFile(path)
	if err != nil {
		return 0, err
	}
	return s.Sync(ctx, seed)
}

func (s *Syncer) Sync(ctx context.Context, seed *SeedFile) (int, error) {
	span := sentry.StartSpan(
		ctx,
		"catalog.sync",
		sentry.WithOpName("catalog.sync"),
		sentry.WithDescription("Syncer.Sync"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	if err := s.validator.Validate(seed); err != nil {
		span.Status = sentry.SpanStatusInvalidArgument
		return 0, fmt.Errorf("invalid catalog seed: %w", err)
	}

	err := s.runner.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		for _, entry := range seed.Products {
			product := &db.Product{
				SKU:           entry.SKU,
				Name:          entry.Name,
				PriceCents:    entry.PriceCents,
				StockQuantity: entry.Stock,
				IsActive:      entry.IsActive(),
			}
			if err := s.products.Upsert(ctx, q, product); err != nil {
				return err
			}
			s.logger.Debug("catalog product synced", "sku", product.SKU, "product_id", product.ID, "stock", product.StockQuantity)
		}
		return nil
	})
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return 0, fmt.Errorf("failed to sync catalog: %w", err)
	}

	span.Status = sentry.SpanStatusOK
	s.logger.Info("catalog synced", "products", len(seed.Products))
	return len(seed.Products), nil
}
