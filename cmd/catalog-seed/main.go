// Command catalog-seed loads a product catalog from a JSON file (optionally
// gzip-compressed) into the database. It is an operator tool, not part of the
// serving path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/marketloop/checkout/internal/domain/product"
	"github.com/marketloop/checkout/internal/repository"
)

// seedProduct is the catalog file's row format.
type seedProduct struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		catalogPath string
		databaseURL string
	)

	flag.StringVar(&catalogPath, "catalog", "data/products.json", "catalog JSON file (.json or .json.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, catalogPath, databaseURL); err != nil {
		slog.Error("catalog seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog seed completed successfully")
}

func run(ctx context.Context, catalogPath, databaseURL string) error {
	products, err := loadCatalog(catalogPath)
	if err != nil {
		return errors.Wrapf(err, "load catalog %s", catalogPath)
	}
	slog.Info("catalog loaded", slog.Int("products", len(products)))

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := repository.NewProductRepository(repository.NewDB(pool))
	for i := range products {
		sp := &products[i]
		p := &product.Product{
			ID:    sp.ID,
			Name:  sp.Name,
			Price: sp.Price,
			Stock: sp.Stock,
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", sp.ID)
		}
	}

	slog.Info("catalog seeded", slog.Int("products", len(products)))
	return nil
}

// loadCatalog reads the catalog file, transparently decompressing .gz input.
func loadCatalog(path string) ([]seedProduct, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	var products []seedProduct
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	for i, p := range products {
		if p.ID == "" || p.Name == "" {
			return nil, errors.Errorf("product %d: id and name are required", i)
		}
		if p.Price.IsNegative() || p.Stock < 0 {
			return nil, errors.Errorf("product %s: negative price or stock", p.ID)
		}
	}
	return products, nil
}
