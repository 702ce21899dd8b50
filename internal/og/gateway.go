package og

import (
	"context"

	"github.com/yanun0323/go-autotrader/internal/model"
)

// Gateway is the exchange account every worker trades through. Orders are
// addressed by the client correlation id. QueryOrder and CancelOrder return
// exception.ErrOrderNotFound for ids the exchange never accepted. Access
// blocks surface as *errors.BlockedError.
type Gateway interface {
	Price(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error)
	OrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderReport, error)
	CancelOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error)
	QueryOrder(ctx context.Context, symbol, clientID string) (model.OrderReport, error)
	Balance(ctx context.Context, asset string) (float64, error)
	Filters(ctx context.Context, symbol string) (model.SymbolFilters, error)
}
