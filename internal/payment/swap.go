package payment

import (
	"context"
	"errors"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

var (
	// ErrEmptyRoute is returned when a swap is requested with no steps.
	ErrEmptyRoute = errors.New("swap route has no steps")

	// ErrRouteMismatch is returned when the route's first leg does not
	// consume the asset being swapped.
	ErrRouteMismatch = errors.New("swap route does not start from the input asset")
)

// SwapStep is one leg of an aggregator route.
type SwapStep struct {
	PoolID   string `json:"pool_id"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
}

// SwapRouter is the external aggregator boundary for the claim-with-swap
// variant. Implementations receive funds already debited from the stream;
// the engine never consults stream state again on this path, so a hostile
// router cannot replay a claim.
type SwapRouter interface {
	Swap(ctx context.Context, route []SwapStep, assetIn string, subID int64, amountIn *big.Int, recipient domain.Address) error
}

// PassthroughRouter is a stand-in aggregator that performs no price
// discovery: it validates the route and delivers the input amount in the
// route's final asset through the ledger.
type PassthroughRouter struct {
	ledger Ledger
}

// NewPassthroughRouter creates a PassthroughRouter over a ledger.
func NewPassthroughRouter(ledger Ledger) *PassthroughRouter {
	return &PassthroughRouter{ledger: ledger}
}

// Compile-time interface check.
var _ SwapRouter = (*PassthroughRouter)(nil)

// Swap validates the route and forwards amountIn to the recipient in the
// final asset, 1:1.
func (r *PassthroughRouter) Swap(ctx context.Context, route []SwapStep, assetIn string, subID int64, amountIn *big.Int, recipient domain.Address) error {
	if len(route) == 0 {
		return ErrEmptyRoute
	}
	if route[0].AssetIn != assetIn {
		return ErrRouteMismatch
	}
	assetOut := route[len(route)-1].AssetOut
	return r.ledger.Transfer(ctx, assetOut, subID, amountIn, recipient)
}
