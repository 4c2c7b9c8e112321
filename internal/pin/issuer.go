// Package pin issues and validates the short-lived, single-use pairing codes
// that a mobile must present to pair with this device.
//
// An Issuer holds a single PIN slot: issuing a new code supersedes the old
// one, so at most one code is ever active. Expiry is checked on every
// Validate and also cleared actively by Sweep.
//
// Issuer is not safe for concurrent use; the broker serializes every call
// under its own lock so issuance and validation never interleave.
package pin

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

const (
	DefaultLength = 6
	DefaultTTL    = 5 * time.Minute

	MinLength = 4
	MaxLength = 12
)

// Issuer owns the PIN slot for one device.
type Issuer struct {
	length int
	ttl    time.Duration
	nowF   func() time.Time
	random io.Reader

	current *models.PairingPIN
	swept   bool
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.nowF = now }
}

// WithRandom overrides the randomness source (tests).
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) { i.random = r }
}

// NewIssuer creates an Issuer producing codes of length digits that live for ttl.
func NewIssuer(length int, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("pin length must be between %d and %d, got %d", MinLength, MaxLength, length)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("pin ttl must be positive, got %s", ttl)
	}
	i := &Issuer{
		length: length,
		ttl:    ttl,
		nowF:   time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued codes.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue invalidates any existing PIN and returns a fresh one.
func (i *Issuer) Issue() (models.PairingPIN, error) {
	code, err := i.generate()
	if err != nil {
		return models.PairingPIN{}, fmt.Errorf("generate pin: %w", err)
	}
	now := i.nowF()
	p := models.PairingPIN{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	i.current = &p
	i.swept = false
	return p, nil
}

// Validate consumes the active PIN if code matches it.
func (i *Issuer) Validate(code string) error {
	if i.current == nil {
		return models.ErrInvalidPin
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(i.current.Code)) != 1 {
		return models.ErrInvalidPin
	}
	if i.current.Consumed {
		return models.ErrAlreadyConsumedPin
	}
	if i.current.ExpiredAt(i.nowF()) {
		return models.ErrExpiredPin
	}
	i.current.Consumed = true
	return nil
}

// Active returns the unconsumed, unexpired PIN if there is one.
func (i *Issuer) Active() (models.PairingPIN, bool) {
	if i.current == nil || i.current.Consumed || i.current.ExpiredAt(i.nowF()) {
		return models.PairingPIN{}, false
	}
	return *i.current, true
}

// Sweep retires an expired PIN. It reports true only the first time an
// unconsumed PIN is found expired, so callers publish only on a visible
// change.
//
// The retired record stays in the slot until superseded or cleared, so a late
// Validate still answers ErrExpiredPin (or ErrAlreadyConsumedPin) rather than
// ErrInvalidPin.
func (i *Issuer) Sweep() bool {
	if i.current == nil || i.swept || !i.current.ExpiredAt(i.nowF()) {
		return false
	}
	i.swept = true
	return !i.current.Consumed
}

// Clear empties the slot.
func (i *Issuer) Clear() {
	i.current = nil
	i.swept = false
}

// generate draws a code uniformly from [0, 10^length) and zero-pads it.
func (i *Issuer) generate() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(i.length)), nil)
	n, err := rand.Int(i.random, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", i.length, n.Int64()), nil
}
