package api

import (
	"dasim/internal/common"
	"dasim/internal/sim"

	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// OrderRequest places an order for a remote user.
type OrderRequest struct {
	User     string           `json:"user"`
	Type     common.OrderType `json:"type"`
	Side     common.Side      `json:"side"`
	Price    float64          `json:"price"`
	Size     uint64           `json:"size"`
	Lifetime int              `json:"lifetime"`
}

func (r OrderRequest) order() common.Order {
	return common.Order{
		OrderType: r.Type,
		Side:      r.Side,
		Price:     r.Price,
		Size:      r.Size,
		Lifetime:  r.Lifetime,
		Owner:     r.User,
	}
}

type StatusResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Model  string    `json:"model"`
	Seed   int64     `json:"seed"`
	Round  int       `json:"round"`
	Rounds int       `json:"rounds"`
	Done   bool      `json:"done"`
	Stats  sim.Stats `json:"stats"`
}

// WSMessage is the envelope of every message pushed to websocket clients.
type WSMessage struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}
