// Package session issues trade and withdrawal requests to the engine and
// reconciles them with the confirmation messages that arrive later on
// unrelated handlers. Every outbound request carries a correlation id; the
// engine echoes it where supported, and results without an id fall back to
// the oldest outstanding request of the same kind.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/models"
)

// ErrNoPendingConfirmation is returned by ConfirmWithdraw when the engine
// has not asked for a confirmation.
var ErrNoPendingConfirmation = errors.New("no withdrawal confirmation pending")

type Controller struct {
	sender channel.Sender
	logger *logrus.Logger

	mu              sync.Mutex
	nextID          uint64
	pending         map[string]*models.PendingRequest
	sendOrder       []string
	withdrawConfirm json.RawMessage
}

type tradeRequest struct {
	ID string `json:"id"`
	models.TradeParams
}

type withdrawRequest struct {
	ID string `json:"id"`
	models.WithdrawParams
}

type activateRequest struct {
	Symbol   string         `json:"coin"`
	Electrum bool           `json:"electrum"`
	LegKind  models.LegKind `json:"type,omitempty"`
}

type resultMessage struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func NewController(sender channel.Sender, logger *logrus.Logger) *Controller {
	return &Controller{
		sender:  sender,
		logger:  logger,
		pending: make(map[string]*models.PendingRequest),
	}
}

// RequestTrade sends a trade request and returns its correlation id. The
// call never blocks on the engine; the outcome arrives later as a
// trade-result message.
func (c *Controller) RequestTrade(params models.TradeParams) (string, error) {
	c.mu.Lock()
	id := c.newIDLocked()
	c.trackLocked(&models.PendingRequest{
		ID:        id,
		Kind:      models.RequestKindTrade,
		State:     models.RequestStateSent,
		Trade:     &params,
		CreatedAt: time.Now(),
	})
	c.mu.Unlock()

	if err := c.sender.Send(channel.Trade, tradeRequest{ID: id, TradeParams: params}); err != nil {
		c.drop(id)
		return "", fmt.Errorf("failed to send trade request: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"id":   id,
		"pair": params.Base + "/" + params.Rel,
	}).Info("Trade request sent")

	return id, nil
}

// RequestWithdraw sends a withdrawal request. The engine answers with a
// withdraw-confirmation-request carrying the fee and final amounts, which
// the controller holds until ConfirmWithdraw.
func (c *Controller) RequestWithdraw(params models.WithdrawParams) (string, error) {
	c.mu.Lock()
	id := c.newIDLocked()
	c.trackLocked(&models.PendingRequest{
		ID:        id,
		Kind:      models.RequestKindWithdraw,
		State:     models.RequestStateSent,
		Withdraw:  &params,
		CreatedAt: time.Now(),
	})
	c.mu.Unlock()

	if err := c.sender.Send(channel.Withdraw, withdrawRequest{ID: id, WithdrawParams: params}); err != nil {
		c.drop(id)
		return "", fmt.Errorf("failed to send withdraw request: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"id":   id,
		"coin": params.Symbol,
	}).Info("Withdraw request sent")

	return id, nil
}

// ConfirmWithdraw echoes the held confirmation payload back to the engine
// as acceptance. The flag stays set until the broadcast-result message
// arrives, whatever its content.
func (c *Controller) ConfirmWithdraw() error {
	c.mu.Lock()
	payload := c.withdrawConfirm
	c.mu.Unlock()

	if payload == nil {
		return ErrNoPendingConfirmation
	}

	if err := c.sender.Send(channel.WithdrawConfirmResp, payload); err != nil {
		return fmt.Errorf("failed to confirm withdrawal: %w", err)
	}
	return nil
}

// EnableAsset asks the engine to activate a coin. The activation is not
// synchronous: the asset shows up as active in a later asset-list snapshot.
func (c *Controller) EnableAsset(symbol string, electrum bool) error {
	return c.sender.Send(channel.ActivateAsset, activateRequest{Symbol: symbol, Electrum: electrum})
}

// SetTradeIntent activates a coin and nominates it for a trade leg. The
// engine answers with a trade-intent-update once the coin is ready, which
// is what actually moves the leg.
func (c *Controller) SetTradeIntent(asset models.Asset, kind models.LegKind) error {
	return c.sender.Send(channel.ActivateAsset, activateRequest{
		Symbol:   asset.Symbol,
		Electrum: !asset.Installed,
		LegKind:  kind,
	})
}

// HandleTradeResult is the inbound handler for trade-result messages.
func (c *Controller) HandleTradeResult(payload json.RawMessage) error {
	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse trade result: %w", err)
	}

	c.mu.Lock()
	req := c.matchLocked(msg.ID, models.RequestKindTrade)
	if req != nil {
		req.Result = payload
		req.UpdatedAt = time.Now()
		if msg.Error != "" {
			req.State = models.RequestStateRejected
		} else {
			req.State = models.RequestStateConfirmed
		}
	}
	c.mu.Unlock()

	entry := c.logger.WithField("result", string(payload))
	if req != nil {
		entry = entry.WithField("id", req.ID)
	}
	entry.Info("Trade result received")

	return nil
}

// HandleWithdrawConfirmation stores the confirmation payload the engine
// wants echoed back. Only one confirmation is tracked at a time; a newer
// one replaces the previous.
func (c *Controller) HandleWithdrawConfirmation(payload json.RawMessage) error {
	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse withdraw confirmation: %w", err)
	}

	c.mu.Lock()
	c.withdrawConfirm = payload
	req := c.matchLocked(msg.ID, models.RequestKindWithdraw)
	if req != nil {
		req.Result = payload
		req.UpdatedAt = time.Now()
	}
	c.mu.Unlock()

	c.logger.Info("Withdrawal confirmation pending")
	return nil
}

// HandleBroadcastResult clears the pending confirmation. Broadcast success
// and failure are not distinguished at this layer; the transaction outcome
// surfaces through the next portfolio snapshot.
func (c *Controller) HandleBroadcastResult(payload json.RawMessage) error {
	var msg resultMessage
	// Tolerate any payload shape; only the echoed id is of interest.
	_ = json.Unmarshal(payload, &msg)

	c.mu.Lock()
	c.withdrawConfirm = nil
	req := c.matchLocked(msg.ID, models.RequestKindWithdraw)
	if req != nil {
		req.Result = payload
		req.UpdatedAt = time.Now()
		req.State = models.RequestStateConfirmed
	}
	c.mu.Unlock()

	c.logger.Info("Withdrawal broadcast result received")
	return nil
}

// PendingConfirmation returns the confirmation payload currently awaiting
// user acceptance, or nil.
func (c *Controller) PendingConfirmation() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withdrawConfirm
}

// PendingRequests returns every tracked request in send order.
func (c *Controller) PendingRequests() []models.PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.PendingRequest, 0, len(c.sendOrder))
	for _, id := range c.sendOrder {
		if req, ok := c.pending[id]; ok {
			out = append(out, *req)
		}
	}
	return out
}

func (c *Controller) newIDLocked() string {
	c.nextID++
	return fmt.Sprintf("req-%d", c.nextID)
}

func (c *Controller) trackLocked(req *models.PendingRequest) {
	c.pending[req.ID] = req
	c.sendOrder = append(c.sendOrder, req.ID)
}

func (c *Controller) drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
	for i, other := range c.sendOrder {
		if other == id {
			c.sendOrder = append(c.sendOrder[:i], c.sendOrder[i+1:]...)
			break
		}
	}
}

// matchLocked resolves a result to its request: by echoed id when present,
// otherwise the oldest still-outstanding request of the same kind.
func (c *Controller) matchLocked(id string, kind models.RequestKind) *models.PendingRequest {
	if id != "" {
		if req, ok := c.pending[id]; ok && req.Kind == kind {
			return req
		}
		return nil
	}

	for _, candidate := range c.sendOrder {
		req, ok := c.pending[candidate]
		if ok && req.Kind == kind && req.State == models.RequestStateSent {
			return req
		}
	}
	return nil
}
