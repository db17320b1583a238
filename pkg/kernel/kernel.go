// Package kernel implements the one-step SGD update applied to a popped
// column against every local rating row that touches it (§4.3).
package kernel

import (
	"math"

	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/ratingstore"
	"github.com/rs/zerolog/log"
)

// SignMode selects the gradient sign convention used by Step. §9 Open
// Question 1 flags that the reference implementation
// (original_source/nomad.cpp:368-369) minimizes (r + <w,h>)^2 + lambda
// terms rather than (r - <w,h>)^2 + lambda terms — almost certainly an
// accidental sign flip in the source this system descends from. The
// default preserves that behavior bit-for-bit; SignCorrected is offered
// for anyone who wants the conventional gradient direction instead.
type SignMode int

const (
	// SignReference reproduces the reference implementation exactly:
	// w <- w - eta*(e*h + lambda*w), h <- h - eta*(e*w + lambda*h).
	SignReference SignMode = iota
	// SignCorrected uses the conventional squared-error gradient:
	// w <- w + eta*(e*h - lambda*w), h <- h + eta*(e*w - lambda*h).
	SignCorrected
)

// Config holds the hyperparameters of the update rule (§4.3 defaults).
type Config struct {
	Lambda       float64 // regularization strength
	DecayRate    float64 // step-size decay
	LearningRate float64 // base learning rate
	Sign         SignMode
}

// DefaultConfig returns lambda 0.05, decay_rate 0.012, learning_rate
// 1e-4, reference sign convention.
func DefaultConfig() Config {
	return Config{
		Lambda:       0.05,
		DecayRate:    0.012,
		LearningRate: 1e-4,
		Sign:         SignReference,
	}
}

// W is the per-rank block of user factor rows; row i is W[i].
type W [][]float64

// Stats accumulates the squared-error loss produced by a single Step
// call, to be folded into the caller's LossAggregator cell.
type Stats struct {
	SumSquaredLoss float64
	Count          int
	NaNDetected    bool // at least one factor vector went NaN during this Step call
}

// Step runs one SGD pass of column col against every row in rows,
// mutating w in place and returning the updated column values and the
// loss accumulated over rows. blockSize converts a global user id into
// its local row index (i mod blockSize, §3).
//
// NaN propagation is tolerated silently per §4.3's numeric policy: a NaN
// in a factor vector is logged once per call but does not abort the
// step, since the reference implementation detects without recovering.
func Step(cfg Config, store *ratingstore.Store, w W, blockSize int, col model.Column, rows []ratingstore.Row) (model.Column, Stats) {
	h := append([]float64(nil), col.Values...)
	var stats Stats
	nanSeen := false

	for _, row := range rows {
		iLocal := row.User % blockSize
		wRow := w[iLocal]
		wCopy := append([]float64(nil), wRow...)

		store.BumpCount(row.User, col.Item)
		t := row.Count // pre-increment count, per §4.3 step 3

		eta := cfg.LearningRate * 1.5 / (1.0 + cfg.DecayRate*math.Pow(float64(t+1), 1.5))
		dot := dot(wCopy, h)
		e := row.Value - dot

		switch cfg.Sign {
		case SignCorrected:
			for k := range wRow {
				wRow[k] = wCopy[k] + eta*(e*h[k]-cfg.Lambda*wCopy[k])
			}
			for k := range h {
				h[k] = h[k] + eta*(e*wCopy[k]-cfg.Lambda*h[k])
			}
		default: // SignReference
			for k := range wRow {
				wRow[k] = wCopy[k] - eta*(e*h[k]+cfg.Lambda*wCopy[k])
			}
			for k := range h {
				h[k] = h[k] - eta*(e*wCopy[k]+cfg.Lambda*h[k])
			}
		}

		stats.SumSquaredLoss += e * e
		stats.Count++

		if !nanSeen && (isNaN(h) || isNaN(wRow)) {
			nanSeen = true
			stats.NaNDetected = true
			log.Warn().Int("item", col.Item).Int("user", row.User).Msg("NaN detected in factor vector during SGD step")
		}
	}

	return model.Column{Item: col.Item, Values: h, PermIndex: col.PermIndex}, stats
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func isNaN(v []float64) bool {
	return len(v) > 0 && math.IsNaN(v[0])
}
