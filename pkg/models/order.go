package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell. There is no short-selling in this model.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType — only Market is ever honored (§1 non-goals exclude
// limit-order queuing); Limit is accepted on the wire for forward
// compatibility but always fills at the last known price like a market
// order.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus — orders are created and filled in the same paper-model
// step; Pending/Cancelled exist for schema completeness but the fill path
// never leaves an order Pending.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a single filled (or, transiently, pending) trade instruction.
type Order struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	AlgorithmID *string         `json:"algorithm_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	FilledAt    *time.Time      `json:"filled_at,omitempty"`
}
