package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses as rendered to clients
const (
	StatusOpen      = "open"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// Event types published after a committed lifecycle transition
const (
	EventOrderCreated   = "order_created"
	EventOrderFilled    = "order_filled"
	EventOrderCancelled = "order_cancelled"
)

// User represents a registered user bound to an account address
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Address      common.Address
	CreatedAt    time.Time
}

// Order represents an escrowed exchange offer
type Order struct {
	ID              uint64          `json:"id"`
	Maker           common.Address  `json:"maker"`
	OfferedAsset    common.Address  `json:"offered_asset"`
	OfferedAmount   decimal.Decimal `json:"offered_amount"`
	RequestedAsset  common.Address  `json:"requested_asset"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Filled          bool            `json:"filled"`
	Cancelled       bool            `json:"cancelled"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Active reports whether the order can still be filled or cancelled
func (o Order) Active() bool {
	return !o.Filled && !o.Cancelled
}

// Status returns "open", "filled" or "cancelled"
func (o Order) Status() string {
	switch {
	case o.Filled:
		return StatusFilled
	case o.Cancelled:
		return StatusCancelled
	default:
		return StatusOpen
	}
}

// Event is a one-way notification about an order transition.
// Fields that do not apply to the event type are left empty.
type Event struct {
	ID              uuid.UUID        `json:"id"`
	Type            string           `json:"type"`
	OrderID         uint64           `json:"order_id"`
	Maker           common.Address   `json:"maker"`
	Filler          *common.Address  `json:"filler,omitempty"`
	OfferedAsset    *common.Address  `json:"offered_asset,omitempty"`
	OfferedAmount   *decimal.Decimal `json:"offered_amount,omitempty"`
	RequestedAsset  *common.Address  `json:"requested_asset,omitempty"`
	RequestedAmount *decimal.Decimal `json:"requested_amount,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// NewOrderCreated builds the creation notification carrying every order field
func NewOrderCreated(o Order) Event {
	return Event{
		ID:              uuid.New(),
		Type:            EventOrderCreated,
		OrderID:         o.ID,
		Maker:           o.Maker,
		OfferedAsset:    &o.OfferedAsset,
		OfferedAmount:   &o.OfferedAmount,
		RequestedAsset:  &o.RequestedAsset,
		RequestedAmount: &o.RequestedAmount,
		OccurredAt:      time.Now().UTC(),
	}
}

// NewOrderFilled builds the fill notification
func NewOrderFilled(o Order, filler common.Address) Event {
	return Event{
		ID:         uuid.New(),
		Type:       EventOrderFilled,
		OrderID:    o.ID,
		Maker:      o.Maker,
		Filler:     &filler,
		OccurredAt: time.Now().UTC(),
	}
}

// NewOrderCancelled builds the cancellation notification
func NewOrderCancelled(o Order) Event {
	return Event{
		ID:         uuid.New(),
		Type:       EventOrderCancelled,
		OrderID:    o.ID,
		Maker:      o.Maker,
		OccurredAt: time.Now().UTC(),
	}
}
