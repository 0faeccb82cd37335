// Package channel implements the named-message transport between the client
// and the local trading-engine process. Messages are JSON envelopes carrying
// a channel name and an opaque payload; ordering is preserved within a single
// channel name but not across names.
package channel

import (
	"encoding/json"
)

// Inbound channel names (engine -> client).
const (
	AssetList          = "asset-list"
	TradeIntentUpdate  = "trade-intent-update"
	TradeResult        = "trade-result"
	WithdrawConfirmReq = "withdraw-confirmation-request"
	BroadcastResult    = "broadcast-result"
	DepthSnapshot      = "depth-snapshot"
)

// Outbound channel names (client -> engine).
const (
	StartDepthStream    = "start-depth-stream"
	StopDepthStream     = "stop-depth-stream"
	ActivateAsset       = "activate-asset"
	Trade               = "trade"
	Withdraw            = "withdraw"
	WithdrawConfirmResp = "withdraw-confirmation-response"
	RefreshPortfolio    = "refresh-portfolio"
)

// Handler consumes the payload of one inbound message.
type Handler func(payload json.RawMessage) error

// Sender sends one named message to the engine. Sends are non-blocking from
// the caller's perspective and carry no delivery confirmation.
type Sender interface {
	Send(channel string, payload interface{}) error
}

// Envelope is the wire format for both directions.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
