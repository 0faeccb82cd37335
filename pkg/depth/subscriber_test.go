package depth

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/models"
)

type sentMessage struct {
	channel string
	payload interface{}
}

type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) Send(ch string, payload interface{}) error {
	r.sent = append(r.sent, sentMessage{channel: ch, payload: payload})
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSubscribe_FirstPairSendsSingleStart(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	if sender.sent[0].channel != channel.StartDepthStream {
		t.Errorf("expected %s, got %s", channel.StartDepthStream, sender.sent[0].channel)
	}
	req := sender.sent[0].payload.(startRequest)
	if req.Base != "KMD" || req.Rel != "BTC" {
		t.Errorf("unexpected start request: %+v", req)
	}
}

func TestSubscribe_PairChangeStopsBeforeStart(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sender.sent = nil

	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "LTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected stop+start, got %d messages", len(sender.sent))
	}
	if sender.sent[0].channel != channel.StopDepthStream {
		t.Errorf("expected stop first, got %s", sender.sent[0].channel)
	}
	if sender.sent[1].channel != channel.StartDepthStream {
		t.Errorf("expected start second, got %s", sender.sent[1].channel)
	}
	req := sender.sent[1].payload.(startRequest)
	if req.Base != "KMD" || req.Rel != "LTC" {
		t.Errorf("unexpected start request: %+v", req)
	}
}

func TestUnsubscribe_WithoutSubscriptionIsSafe(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly 1 stop message, got %d", len(sender.sent))
	}
	if sender.sent[0].channel != channel.StopDepthStream {
		t.Errorf("expected %s, got %s", channel.StopDepthStream, sender.sent[0].channel)
	}
}

func snapshotPayload(t *testing.T, msg snapshotMessage) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}
	return data
}

func TestHandleSnapshot_UpdatesBook(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := snapshotPayload(t, snapshotMessage{
		Base:       "KMD",
		Rel:        "BTC",
		Generation: 1,
		Asks:       []models.DepthQuote{{UTXOCount: 3}},
		Bids:       []models.DepthQuote{{UTXOCount: 1}, {UTXOCount: 2}},
	})
	if err := sub.HandleSnapshot(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	book := sub.Book()
	if len(book.Asks) != 1 || len(book.Bids) != 2 {
		t.Errorf("expected 1 ask and 2 bids, got %d/%d", len(book.Asks), len(book.Bids))
	}
	if book.Pair.Base != "KMD" || book.Pair.Rel != "BTC" {
		t.Errorf("unexpected book pair: %s", book.Pair)
	}
}

func TestHandleSnapshot_DiscardsStaleGeneration(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sub.Subscribe(models.Pair{Base: "KMD", Rel: "LTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Snapshot for the first subscription arrives after the pair change.
	stale := snapshotPayload(t, snapshotMessage{
		Base:       "KMD",
		Rel:        "BTC",
		Generation: 1,
		Asks:       []models.DepthQuote{{UTXOCount: 3}},
	})
	if err := sub.HandleSnapshot(stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	book := sub.Book()
	if len(book.Asks) != 0 || len(book.Bids) != 0 {
		t.Errorf("stale snapshot should have been discarded, book has %d/%d rows", len(book.Asks), len(book.Bids))
	}
}

func TestHandleSnapshot_DiscardedWhenUnsubscribed(t *testing.T) {
	sender := &recordingSender{}
	sub := NewSubscriber(sender, testLogger())

	payload := snapshotPayload(t, snapshotMessage{
		Base: "KMD",
		Rel:  "BTC",
		Asks: []models.DepthQuote{{UTXOCount: 1}},
	})
	if err := sub.HandleSnapshot(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	book := sub.Book()
	if len(book.Asks) != 0 {
		t.Errorf("expected empty book, got %d asks", len(book.Asks))
	}
}
