// Package depth owns the lifecycle of the market-depth feed. At most one
// subscription is live at a time; changing pair always tears the previous
// one down on the sending side before the new start message goes out.
package depth

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/models"
)

// Subscriber manages the depth-stream subscription for the currently
// selected pair and holds the latest snapshot for observers.
type Subscriber struct {
	sender channel.Sender
	logger *logrus.Logger

	mu         sync.Mutex
	active     bool
	pair       models.Pair
	generation uint64
	book       models.DepthBook
}

type startRequest struct {
	Base       string `json:"base"`
	Rel        string `json:"rel"`
	Generation uint64 `json:"generation"`
}

type snapshotMessage struct {
	Base       string              `json:"base"`
	Rel        string              `json:"rel"`
	Generation uint64              `json:"generation"`
	Asks       []models.DepthQuote `json:"asks"`
	Bids       []models.DepthQuote `json:"bids"`
}

func NewSubscriber(sender channel.Sender, logger *logrus.Logger) *Subscriber {
	return &Subscriber{
		sender: sender,
		logger: logger,
	}
}

// Subscribe switches the live depth stream to the given pair. An existing
// subscription is stopped first; the stop and start are separate messages
// with no ordering guarantee at the engine, so each start carries a fresh
// generation tag and stale snapshots are dropped on arrival.
func (s *Subscriber) Subscribe(pair models.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		if err := s.sendStop(); err != nil {
			return err
		}
	}

	s.generation++
	s.pair = pair
	s.active = true
	s.book = models.DepthBook{Pair: pair, Generation: s.generation}

	err := s.sender.Send(channel.StartDepthStream, startRequest{
		Base:       pair.Base,
		Rel:        pair.Rel,
		Generation: s.generation,
	})
	if err != nil {
		return fmt.Errorf("failed to start depth stream for %s: %w", pair, err)
	}

	s.logger.WithFields(logrus.Fields{
		"pair":       pair.String(),
		"generation": s.generation,
	}).Debug("Depth stream started")

	return nil
}

// Unsubscribe stops the depth stream. Safe to call when nothing is
// subscribed; the engine treats a redundant stop as a no-op.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.pair = models.Pair{}
	s.book = models.DepthBook{}

	return s.sendStop()
}

func (s *Subscriber) sendStop() error {
	if err := s.sender.Send(channel.StopDepthStream, nil); err != nil {
		return fmt.Errorf("failed to stop depth stream: %w", err)
	}
	return nil
}

// HandleSnapshot ingests an inbound depth-snapshot message. Snapshots for a
// generation or pair other than the current subscription are stale and
// discarded silently.
func (s *Subscriber) HandleSnapshot(payload json.RawMessage) error {
	var msg snapshotMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse depth snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || msg.Generation != s.generation {
		s.logger.WithFields(logrus.Fields{
			"generation": msg.Generation,
			"current":    s.generation,
		}).Debug("Discarding stale depth snapshot")
		return nil
	}

	if msg.Base != s.pair.Base || msg.Rel != s.pair.Rel {
		s.logger.WithFields(logrus.Fields{
			"pair":     msg.Base + "/" + msg.Rel,
			"selected": s.pair.String(),
		}).Debug("Discarding depth snapshot for unselected pair")
		return nil
	}

	s.book = models.DepthBook{
		Pair:       s.pair,
		Asks:       msg.Asks,
		Bids:       msg.Bids,
		Generation: msg.Generation,
		UpdatedAt:  time.Now(),
	}

	return nil
}

// Book returns the latest snapshot for the current subscription. An empty
// book means no subscription or no data yet, never an error.
func (s *Subscriber) Book() models.DepthBook {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.book
	book.Asks = append([]models.DepthQuote(nil), s.book.Asks...)
	book.Bids = append([]models.DepthQuote(nil), s.book.Bids...)
	return book
}

// Active reports whether a subscription is currently live, and for which pair.
func (s *Subscriber) Active() (models.Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, s.active
}
