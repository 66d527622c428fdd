package gateway

import (
	"time"

	"investgame/internal/execution"
	"investgame/internal/model"
)

// PriceRequest is the body of POST /api/prices. "price" is accepted as an
// alias for "close".
type PriceRequest struct {
	AssetID   string    `json:"asset_id" validate:"required,max=32"`
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close" validate:"gt=0"`
	Price     float64   `json:"price"`
}

func (r *PriceRequest) normalize() {
	if r.Close == 0 {
		r.Close = r.Price
	}
}

// AssetPrice converts the request for the game service.
func (r PriceRequest) AssetPrice() model.AssetPrice {
	return model.AssetPrice{
		AssetID: r.AssetID,
		Point:   model.PricePoint{Timestamp: r.Timestamp, Close: r.Close},
	}
}

// CreateSessionRequest is the body of POST /api/sessions. A zero balance
// uses the configured starting balance.
type CreateSessionRequest struct {
	Balance float64 `json:"balance" validate:"gte=0"`
}

// OrderRequest is the body of POST /api/sessions/{id}/orders. Open and spot
// orders need asset_id and amount; close orders need position_id. A zero
// price fills at the last ingested price.
type OrderRequest struct {
	Action     string  `json:"action" validate:"required,oneof=open_long close_long open_short close_short buy sell"`
	AssetID    string  `json:"asset_id" validate:"max=32"`
	PositionID string  `json:"position_id"`
	Amount     float64 `json:"amount" validate:"gte=0"`
	Price      float64 `json:"price" validate:"gte=0"`
	Leverage   float64 `json:"leverage" default:"1" validate:"gte=1,lte=100"`
	Strategy   string  `json:"strategy" validate:"max=64"`
	Reason     string  `json:"reason" validate:"max=200"`
}

func (r OrderRequest) isClose() bool {
	a := execution.Action(r.Action)
	return a == execution.CloseLong || a == execution.CloseShort
}

// Order converts the request for the paper desk.
func (r OrderRequest) Order(sessionID string) execution.Order {
	return execution.Order{
		SessionID:  sessionID,
		Action:     execution.Action(r.Action),
		AssetID:    r.AssetID,
		Amount:     r.Amount,
		Price:      r.Price,
		Leverage:   r.Leverage,
		PositionID: r.PositionID,
		Strategy:   r.Strategy,
		Reason:     r.Reason,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Errors []ValidationError `json:"errors,omitempty"`
}
