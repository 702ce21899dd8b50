package exception

import "github.com/yanun0323/errors"

var (
	ErrGatewayTransient  = errors.New("gateway: transient failure")
	ErrGatewayRateLimit  = errors.New("gateway: rate limited")
	ErrAccessBlocked     = errors.New("gateway: access blocked")
	ErrOrderNotFound     = errors.New("order: not found")
	ErrOrderRejected     = errors.New("order: rejected by exchange")
	ErrOrderInvalid      = errors.New("order: invalid request")
	ErrOrderDuplicate    = errors.New("order: duplicate correlation id")
	ErrOrderTerminal     = errors.New("order: already terminal")
	ErrUnknownSymbol     = errors.New("market: unknown symbol")
	ErrNoMarketData      = errors.New("market: no data")
	ErrReconcileMismatch = errors.New("order: report does not match intent")
)
