// Command seed-db loads a demo catalog, promo codes and cart, and prints a
// bearer token for the demo user.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/promo"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// demoUser owns the seeded cart and the printed token.
var demoUser = uuid.MustParse("8f14e45f-ceea-467f-a0e6-2f4b5d8a1c01")

type variantJSON struct {
	Name            string          `json:"name"`
	SKU             string          `json:"sku"`
	PriceAdjustment decimal.Decimal `json:"priceAdjustment"`
	Inventory       int             `json:"inventory"`
	Active          *bool           `json:"active"`
}

type productJSON struct {
	Title     string          `json:"title"`
	SKU       string          `json:"sku"`
	BasePrice decimal.Decimal `json:"basePrice"`
	Inventory int             `json:"inventory"`
	Active    *bool           `json:"active"`
	Variants  []variantJSON   `json:"variants"`
}

func active(v *bool) bool {
	return v == nil || *v
}

func main() {
	_ = godotenv.Load()

	var (
		databaseURL string
		catalogFile string
		jwtSecret   string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for the demo token (or SHOP_AUTH_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the demo token")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("SHOP_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")

	if jwtSecret == "" {
		slog.Warn("no JWT secret given, skipping demo token")
		return
	}
	token, err := auth.NewTokens([]byte(jwtSecret), tokenTTL).Issue(auth.Identity{UserID: demoUser})
	if err != nil {
		slog.Error("issue demo token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("demo user", slog.String("id", demoUser.String()), slog.Duration("ttl", tokenTTL))
	fmt.Println(token)
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
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

	products, err := seedCatalog(ctx, pool, catalogFile)
	if err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedPromoCodes(ctx, postgres.NewPromoRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}

	if err := seedCart(ctx, postgres.NewCartStore(pool), products); err != nil {
		return errors.Wrap(err, "seed cart")
	}

	return nil
}

type seededProduct struct {
	product  catalog.Product
	variants []catalog.Variant
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) ([]seededProduct, error) {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	repo := postgres.NewCatalogRepository(pool)
	seeded := make([]seededProduct, 0, len(products))
	for _, pj := range products {
		p := catalog.Product{
			Title:          pj.Title,
			SKU:            pj.SKU,
			BasePrice:      pj.BasePrice,
			InventoryCount: pj.Inventory,
			Active:         active(pj.Active),
		}
		if err := repo.UpsertProduct(ctx, &p); err != nil {
			return nil, err
		}
		sp := seededProduct{product: p}

		for _, vj := range pj.Variants {
			v := catalog.Variant{
				ProductID:       p.ID,
				Name:            vj.Name,
				SKU:             vj.SKU,
				PriceAdjustment: vj.PriceAdjustment,
				InventoryCount:  vj.Inventory,
				Active:          active(vj.Active),
			}
			if err := repo.UpsertVariant(ctx, &v); err != nil {
				return nil, err
			}
			sp.variants = append(sp.variants, v)
		}
		seeded = append(seeded, sp)

		slog.Info("upserted product",
			slog.String("id", p.ID.String()),
			slog.String("sku", p.SKU),
			slog.Int("variants", len(sp.variants)),
		)
	}

	return seeded, nil
}

func seedPromoCodes(ctx context.Context, repo *postgres.PromoRepository) error {
	slog.Info("seeding promo codes")

	var (
		now      = time.Now().UTC()
		dec      = decimal.RequireFromString
		ptr      = func(d decimal.Decimal) *decimal.Decimal { return &d }
		limit    = func(n int) *int { return &n }
		monthAgo = now.AddDate(0, -1, 0)
		nextYear = now.AddDate(1, 0, 0)
	)

	codes := []promo.Code{
		{
			Code:              "SAVE20",
			Description:       "20% off, up to 100.00",
			DiscountType:      promo.DiscountPercentage,
			DiscountValue:     dec("20"),
			MinOrderAmount:    ptr(dec("50.00")),
			MaxDiscountAmount: ptr(dec("100.00")),
			UsageLimit:        limit(100),
			ValidFrom:         monthAgo,
			ValidUntil:        nextYear,
			Active:            true,
		},
		{
			Code:          "FIXED10",
			Description:   "10.00 off any order",
			DiscountType:  promo.DiscountFixed,
			DiscountValue: dec("10.00"),
			ValidFrom:     monthAgo,
			ValidUntil:    nextYear,
			Active:        true,
		},
		{
			Code:           "WELCOME500",
			Description:    "500.00 off orders over 2000.00",
			DiscountType:   promo.DiscountFixed,
			DiscountValue:  dec("500.00"),
			MinOrderAmount: ptr(dec("2000.00")),
			UsageLimit:     limit(1000),
			ValidFrom:      monthAgo,
			ValidUntil:     nextYear,
			Active:         true,
		},
		{
			Code:          "EXPIRED",
			Description:   "Expired test code",
			DiscountType:  promo.DiscountPercentage,
			DiscountValue: dec("10"),
			ValidFrom:     now.AddDate(0, -2, 0),
			ValidUntil:    monthAgo,
			Active:        true,
		},
		{
			Code:          "INACTIVE",
			Description:   "Disabled test code",
			DiscountType:  promo.DiscountPercentage,
			DiscountValue: dec("10"),
			ValidFrom:     monthAgo,
			ValidUntil:    nextYear,
			Active:        false,
		},
	}

	for i := range codes {
		c := &codes[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return err
		}
		slog.Info("upserted promo code", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

// seedCart puts one unit of the first variant (or the product itself) of
// every active product into the demo user's cart.
func seedCart(ctx context.Context, store *postgres.CartStore, products []seededProduct) error {
	slog.Info("seeding demo cart", slog.String("user_id", demoUser.String()))

	for _, sp := range products {
		if !sp.product.Active || sp.product.InventoryCount == 0 {
			continue
		}
		var variantID *uuid.UUID
		if len(sp.variants) > 0 {
			variantID = &sp.variants[0].ID
		}
		if _, err := store.PutLine(ctx, demoUser, sp.product.ID, variantID, 1); err != nil {
			return errors.Wrapf(err, "put %s", sp.product.SKU)
		}
	}
	return nil
}
