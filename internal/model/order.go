package model

import (
	"time"

	"github.com/yanun0323/go-autotrader/internal/model/enum"
)

// OrderRequest is sent to the exchange gateway.
type OrderRequest struct {
	ClientID string         `json:"clientId"`
	Symbol   string         `json:"symbol"`
	Side     enum.OrderSide `json:"side"`
	Type     enum.OrderType `json:"type"`
	Qty      float64        `json:"qty"`
	Price    float64        `json:"price"`
}

// OrderReport is the exchange view of an order. Executed values are authoritative.
type OrderReport struct {
	ClientID    string           `json:"clientId"`
	ExchangeID  string           `json:"exchangeId"`
	Symbol      string           `json:"symbol"`
	Side        enum.OrderSide   `json:"side"`
	Status      enum.OrderStatus `json:"status"`
	Qty         float64          `json:"qty"`
	Price       float64          `json:"price"`
	ExecutedQty float64          `json:"executedQty"`
	AvgPrice    float64          `json:"avgPrice"`
	Fee         float64          `json:"fee"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Notional returns the executed quote amount.
func (r OrderReport) Notional() float64 {
	return r.ExecutedQty * r.AvgPrice
}
