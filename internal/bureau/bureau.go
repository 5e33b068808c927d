// Package bureau provides a simulated credit bureau.
//
// Scores are derived from the last digit of the phone number plus random
// jitter, so the same applicant lands in roughly the same band across calls.
package bureau

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// ErrInvalidPhone is returned when the phone number does not end in a digit.
var ErrInvalidPhone = errors.New("phone number must end in a digit")

// Score model constants
const (
	BaseScore      = 650
	PointsPerDigit = 15
	MinScore       = 300
	MaxScore       = 900
	MinJitter      = -20
	MaxJitter      = 50
)

// Opts holds configuration options for the mock bureau.
type Opts struct {
	Jitter  func() int
	Latency time.Duration
}

// Option defines a configuration option for the mock bureau.
type Option func(*Opts)

// WithJitter overrides the random jitter source.
func WithJitter(fn func() int) Option {
	return func(o *Opts) { o.Jitter = fn }
}

// WithLatency adds a simulated response delay to every Score call.
func WithLatency(d time.Duration) Option {
	return func(o *Opts) { o.Latency = d }
}

// MockBureau returns deterministic-with-jitter credit reports.
type MockBureau struct {
	jitter  func() int
	latency time.Duration
}

// NewMockBureau creates a MockBureau.
func NewMockBureau(opts ...Option) *MockBureau {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Jitter == nil {
		cfg.Jitter = func() int { return MinJitter + rand.IntN(MaxJitter-MinJitter+1) }
	}
	return &MockBureau{jitter: cfg.Jitter, latency: cfg.Latency}
}

// Score returns a credit report for phone.
func (b *MockBureau) Score(ctx context.Context, phone string) (models.BureauReport, error) {
	if phone == "" {
		return models.BureauReport{}, fmt.Errorf("%w: empty phone", ErrInvalidPhone)
	}
	last := phone[len(phone)-1]
	if last < '0' || last > '9' {
		return models.BureauReport{}, fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return models.BureauReport{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return models.BureauReport{}, err
	}

	score := BaseScore + int(last-'0')*PointsPerDigit + b.jitter()
	score = max(MinScore, min(MaxScore, score))
	band, rates := RiskBand(score)

	slog.Debug("MockBureau.Score: report generated", "phone", phone, "score", score, "band", band)
	return models.BureauReport{
		CreditScore:          score,
		RiskBand:             band,
		RecommendedRateRange: rates,
	}, nil
}

// RiskBand maps a score to its risk band and recommended rate range.
func RiskBand(score int) (band, rateRange string) {
	switch {
	case score >= 750:
		return "Low", "10.99% - 12.99%"
	case score >= 700:
		return "Medium", "12.99% - 16.99%"
	case score >= 650:
		return "Medium-High", "16.99% - 20.99%"
	default:
		return "High", "20.99%+"
	}
}
