package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator validates a promo code against an order amount.
type Validator interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal) (Result, error)
}

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator by looking codes up in a Repository and
// running Check on them. Only storage failures are returned as errors.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// ValidatorOption configures a RepoValidator.
type ValidatorOption func(*RepoValidator)

// WithClock sets the time source used for the validity window check.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *RepoValidator) { v.now = now }
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository, opts ...ValidatorOption) *RepoValidator {
	v := &RepoValidator{repo: repo, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate resolves code case-insensitively and checks it against amount.
func (v *RepoValidator) Validate(ctx context.Context, code string, amount decimal.Decimal) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return NotFound(), nil
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFound(), nil
		}
		return Result{}, errors.Wrap(err, "lookup promo code")
	}

	return Check(c, amount, v.now()), nil
}
