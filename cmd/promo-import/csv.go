package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/promo"
)

// Columns of a promo CSV batch. The header row may list them in any order;
// the ones in required must be present.
const (
	colCode              = "code"
	colDescription       = "description"
	colDiscountType      = "discount_type"
	colDiscountValue     = "discount_value"
	colMinOrderAmount    = "min_order_amount"
	colMaxDiscountAmount = "max_discount_amount"
	colUsageLimit        = "usage_limit"
	colValidFrom         = "valid_from"
	colValidUntil        = "valid_until"
	colActive            = "is_active"
)

var required = []string{colCode, colDiscountType, colDiscountValue, colValidFrom, colValidUntil}

// readFile streams a gzip CSV file into promo codes. A code repeated within
// one file keeps its last row.
func readFile(ctx context.Context, path string) ([]promo.Code, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return parseCSV(ctx, gz)
}

func parseCSV(ctx context.Context, r io.Reader) ([]promo.Code, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}

	var (
		codes []promo.Code
		index = make(map[string]int)
	)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		c, err := parseRecord(func(name string) string {
			if i, ok := cols[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		})
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		if i, ok := index[c.Code]; ok {
			slog.Warn("code repeated within file, keeping last row",
				slog.String("code", c.Code),
				slog.Int("line", line),
			)
			codes[i] = c
			continue
		}
		index[c.Code] = len(codes)
		codes = append(codes, c)
	}
	return codes, nil
}

func parseRecord(field func(name string) string) (promo.Code, error) {
	c := promo.Code{
		Code:         promo.Normalize(field(colCode)),
		Description:  field(colDescription),
		DiscountType: promo.DiscountType(strings.ToLower(field(colDiscountType))),
		Active:       true,
	}
	if c.Code == "" {
		return c, errors.New("empty code")
	}
	switch c.DiscountType {
	case promo.DiscountPercentage, promo.DiscountFixed:
	default:
		return c, errors.Errorf("%s: unknown discount type %q", c.Code, c.DiscountType)
	}

	var err error
	if c.DiscountValue, err = decimal.NewFromString(field(colDiscountValue)); err != nil {
		return c, errors.Wrapf(err, "%s: discount value", c.Code)
	}
	if c.DiscountValue.IsNegative() {
		return c, errors.Errorf("%s: negative discount value", c.Code)
	}
	if c.DiscountType == promo.DiscountPercentage && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.Errorf("%s: percentage above 100", c.Code)
	}
	if c.MinOrderAmount, err = optDecimal(field(colMinOrderAmount)); err != nil {
		return c, errors.Wrapf(err, "%s: min order amount", c.Code)
	}
	if c.MaxDiscountAmount, err = optDecimal(field(colMaxDiscountAmount)); err != nil {
		return c, errors.Wrapf(err, "%s: max discount amount", c.Code)
	}
	if v := field(colUsageLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, errors.Errorf("%s: usage limit %q", c.Code, v)
		}
		c.UsageLimit = &n
	}
	if c.ValidFrom, err = parseTime(field(colValidFrom), false); err != nil {
		return c, errors.Wrapf(err, "%s: valid from", c.Code)
	}
	if c.ValidUntil, err = parseTime(field(colValidUntil), true); err != nil {
		return c, errors.Wrapf(err, "%s: valid until", c.Code)
	}
	if c.ValidUntil.Before(c.ValidFrom) {
		return c, errors.Errorf("%s: validity window ends before it starts", c.Code)
	}
	if v := field(colActive); v != "" {
		if c.Active, err = strconv.ParseBool(v); err != nil {
			return c, errors.Wrapf(err, "%s: is_active", c.Code)
		}
	}
	return c, nil
}

func optDecimal(v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the whole
// day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
