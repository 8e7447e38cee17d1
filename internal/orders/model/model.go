// Package model defines the order domain entities persisted by the service.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. The version column is the optimistic-lock token; every
// successful status update increments it.
const (
	OrderStatusNew       = "NEW"
	OrderStatusSubmitted = "SUBMITTED"
	OrderStatusAccepted  = "ACCEPTED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order types
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Order is a financial order pending submission to the trade-execution service.
type Order struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	Symbol      string          `gorm:"size:32;index" json:"symbol"`
	Side        string          `gorm:"size:8" json:"side"`
	Type        string          `gorm:"size:16" json:"type"`
	Price       decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	Quantity    decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	Status      string          `gorm:"size:16;index" json:"status"`
	ExternalRef string          `gorm:"size:64" json:"external_ref,omitempty"`
	Version     int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Executions []Execution `gorm:"foreignKey:OrderID" json:"executions,omitempty"`
}

// Execution is a fill reported by the trade-execution service for an order.
type Execution struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewOrderForTest creates an order with fresh identifiers for tests.
func NewOrderForTest(symbol, side, priceStr, qtyStr string) *Order {
	price, _ := decimal.NewFromString(priceStr)
	qty, _ := decimal.NewFromString(qtyStr)
	return &Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Symbol:    symbol,
		Side:      side,
		Type:      OrderTypeLimit,
		Price:     price,
		Quantity:  qty,
		Status:    OrderStatusNew,
		Version:   1,
		CreatedAt: time.Now(),
	}
}
