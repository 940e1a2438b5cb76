// Package risk holds the pre-trade gate orders pass through before they
// reach the venue.
package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/schema"
)

// Gate enforces the configured pre-trade limits: a per-order quantity cap and
// an order submission throttle. A nil Gate allows everything.
type Gate struct {
	maxQuantity decimal.Decimal
	limiter     *rate.Limiter
}

// New builds a gate from configuration. Disabled config yields a nil gate.
func New(cfg config.RiskConfig) (*Gate, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	g := new(Gate)
	if cfg.MaxOrderQuantity != "" {
		qty, err := decimal.NewFromString(cfg.MaxOrderQuantity)
		if err != nil {
			return nil, errs.New("risk", errs.CodeInvalid,
				errs.WithMessage("maxOrderQuantity is not a number"), errs.WithCause(err))
		}
		if !qty.IsPositive() {
			return nil, errs.New("risk", errs.CodeInvalid, errs.WithMessage("maxOrderQuantity must be positive"))
		}
		g.maxQuantity = qty
	}
	if cfg.OrdersPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), burst)
	}
	return g, nil
}

// Allow blocks until the throttle admits the order, then checks the quantity
// cap. Violations come back as risk_blocked errors.
func (g *Gate) Allow(ctx context.Context, req schema.OrderRequest) error {
	if g == nil {
		return nil
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return errs.New("risk", errs.CodeRiskBlocked,
				errs.WithMessage("order throttle exceeded"), errs.WithCause(err))
		}
	}
	if g.maxQuantity.IsPositive() && req.Quantity.GreaterThan(g.maxQuantity) {
		return errs.New("risk", errs.CodeRiskBlocked,
			errs.WithMessage("order quantity "+req.Quantity.String()+" exceeds cap "+g.maxQuantity.String()))
	}
	return nil
}
