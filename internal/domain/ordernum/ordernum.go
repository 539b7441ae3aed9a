// Package ordernum generates human-readable order numbers of the form
// ORD-YYYYMMDD-XXXXX.
package ordernum

import (
	"context"
	"crypto/rand"
	"io"
	"regexp"
	"time"

	"github.com/go-faster/errors"
)

const (
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLen    = 5
	DefaultLimit = 20

	// unbiasedLimit is the largest multiple of len(alphabet) a byte can hold.
	unbiasedLimit = 256 - 256%len(alphabet)
)

// ErrExhausted is returned when every attempt collided with an existing number.
var ErrExhausted = errors.New("order number attempts exhausted")

var pattern = regexp.MustCompile(`^ORD-\d{8}-[A-Z0-9]{5}$`)

// Valid reports whether s is a well-formed order number.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// ExistsFunc reports whether an order number is already taken.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Generator produces candidate order numbers and retries on collision.
type Generator struct {
	now      func() time.Time
	rand     io.Reader
	attempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for the date segment.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRand overrides the randomness source of the suffix.
func WithRand(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// WithAttempts overrides the collision retry cap.
func WithAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:      time.Now,
		rand:     rand.Reader,
		attempts: DefaultLimit,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Candidate returns one order number without checking uniqueness.
func (g *Generator) Candidate() (string, error) {
	var (
		out [suffixLen]byte
		buf [suffixLen]byte
	)
	for n := 0; n < suffixLen; {
		if _, err := io.ReadFull(g.rand, buf[:suffixLen-n]); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, b := range buf[:suffixLen-n] {
			// Bytes past the last whole multiple of the alphabet would
			// favour its first letters.
			if int(b) >= unbiasedLimit {
				continue
			}
			out[n] = alphabet[int(b)%len(alphabet)]
			n++
		}
	}
	return "ORD-" + g.now().UTC().Format("20060102") + "-" + string(out[:]), nil
}

// Next returns a number for which exists reports false.
func (g *Generator) Next(ctx context.Context, exists ExistsFunc) (string, error) {
	for range g.attempts {
		n, err := g.Candidate()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, n)
		if err != nil {
			return "", errors.Wrap(err, "check order number")
		}
		if !taken {
			return n, nil
		}
	}
	return "", errors.Wrapf(ErrExhausted, "after %d attempts", g.attempts)
}
