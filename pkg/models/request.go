package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RequestKind string

const (
	RequestKindTrade    RequestKind = "trade"
	RequestKindWithdraw RequestKind = "withdraw"
)

type RequestState string

const (
	RequestStateSent      RequestState = "sent"
	RequestStateConfirmed RequestState = "confirmed"
	RequestStateRejected  RequestState = "rejected"
)

type TradeParams struct {
	Method string          `json:"method"`
	Base   string          `json:"base"`
	Rel    string          `json:"rel"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"relvolume"`
}

type WithdrawParams struct {
	Symbol  string          `json:"coin"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// PendingRequest is an outstanding trade or withdrawal, keyed by the
// correlation id attached at send time.
type PendingRequest struct {
	ID        string          `json:"id"`
	Kind      RequestKind     `json:"kind"`
	State     RequestState    `json:"state"`
	Trade     *TradeParams    `json:"trade,omitempty"`
	Withdraw  *WithdrawParams `json:"withdraw,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
