// Command promo-import bulk loads promo codes from gzip CSV batches. Codes that
// appear in more than one batch are treated as conflicts and skipped.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/promo"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	minCapacity   = 1024
	progressEvery = 100_000
	batchSize     = 500
)

func main() {
	var (
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/promos*.csv.gz", "glob of gzip CSV batches")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, dryRun); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %q", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}
	if len(files) > bits.UintSize {
		return errors.Errorf("at most %d files per import, got %d", bits.UintSize, len(files))
	}
	slices.Sort(files)

	batches, err := loadBatches(ctx, files)
	if err != nil {
		return errors.Wrap(err, "load batches")
	}

	accepted, conflicts := resolve(batches)
	slog.Info("batches resolved",
		slog.Int("files", len(files)),
		slog.Int("accepted", len(accepted)),
		slog.Int("conflicts", len(conflicts)),
	)
	for _, code := range conflicts {
		slog.Warn("skipping code defined in several files", slog.String("code", code))
	}

	if dryRun || len(accepted) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writePromos(ctx, pool, accepted); err != nil {
		return errors.Wrap(err, "write promo codes")
	}

	return nil
}

// batch is the parsed content of one file and its bloom filter of codes.
type batch struct {
	path   string
	codes  []promo.Code
	filter *bloom.BloomFilter
}

// loadBatches parses every file concurrently.
func loadBatches(ctx context.Context, files []string) ([]batch, error) {
	batches := make([]batch, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			codes, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}

			filter := bloom.NewWithEstimates(uint(max(len(codes), minCapacity)), bloomFPR)
			for _, c := range codes {
				filter.AddString(c.Code)
			}
			batches[i] = batch{path: path, codes: codes, filter: filter}

			slog.Info("file loaded", slog.String("path", path), slog.Int("codes", len(codes)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// resolve returns the codes defined in exactly one batch, and the sorted list
// of codes defined in several. Bloom filters of the other batches prune the
// candidates; the exact per-file bitmask decides.
func resolve(batches []batch) (accepted []promo.Code, conflicts []string) {
	masks := make(map[string]uint)
	for i, b := range batches {
		bit := uint(1) << uint(i)
		for _, c := range b.codes {
			for j, other := range batches {
				if j != i && other.filter.TestString(c.Code) {
					masks[c.Code] |= bit
					break
				}
			}
		}
	}

	for code, mask := range masks {
		if bits.OnesCount(mask) >= 2 {
			conflicts = append(conflicts, code)
		}
	}
	slices.Sort(conflicts)

	for _, b := range batches {
		for _, c := range b.codes {
			if _, found := slices.BinarySearch(conflicts, c.Code); !found {
				accepted = append(accepted, c)
			}
		}
	}
	return accepted, conflicts
}

// writePromos upserts codes in transactions of batchSize.
func writePromos(ctx context.Context, pool *pgxpool.Pool, codes []promo.Code) error {
	slog.Info("writing promo codes to database", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += batchSize {
		chunk := codes[start:min(start+batchSize, len(codes))]
		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			repo := postgres.NewPromoRepository(tx)
			for i := range chunk {
				if err := repo.Upsert(ctx, &chunk[i]); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}

		written := start + len(chunk)
		if written%progressEvery < batchSize || written == len(codes) {
			slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(codes)))
		}
	}

	return nil
}
