package portfolio

import (
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/depth"
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

func (r *recordingSender) channels() []string {
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.channel)
	}
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) (*Store, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	sub := depth.NewSubscriber(sender, testLogger())
	store := NewStore(sender, sub, Config{
		DefaultFiat:     "usd",
		ReferenceCrypto: "KMD",
		FiatRates:       map[string]decimal.Decimal{"usd": decimal.NewFromInt(1)},
	}, testLogger())
	return store, sender
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testAssets() []models.Asset {
	return []models.Asset{
		{Symbol: "KMD", Balance: dec(10), KMDValue: dec(10), Status: models.AssetStatusActive},
		{Symbol: "BTC", Balance: dec(1), KMDValue: dec(50), Status: models.AssetStatusActive},
		{Symbol: "LTC", Status: models.AssetStatusActive},
		{Symbol: "ZEC", Status: models.AssetStatusInactive},
	}
}

func TestTotalValue_EmptyStoreIsZero(t *testing.T) {
	store, _ := newTestStore(t)

	if total := store.TotalValue(true); !total.IsZero() {
		t.Errorf("expected 0, got %s", total)
	}
	if total := store.TotalValue(false); !total.IsZero() {
		t.Errorf("expected 0, got %s", total)
	}
}

func TestTotalValue_SumsInstalledAssets(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	total := store.TotalValue(true)
	if !total.Equal(dec(60)) {
		t.Errorf("expected 60, got %s", total)
	}
}

func TestIngestSnapshot_Idempotent(t *testing.T) {
	store, _ := newTestStore(t)

	store.IngestSnapshot(testAssets())
	first := store.TotalValue(false)
	evolution := store.EvolutionPercent()

	store.IngestSnapshot(testAssets())
	if total := store.TotalValue(false); !total.Equal(first) {
		t.Errorf("total changed after identical ingest: %s != %s", total, first)
	}
	if ev := store.EvolutionPercent(); !ev.Equal(evolution) {
		t.Errorf("evolution changed after identical ingest: %s != %s", ev, evolution)
	}
}

func TestIngestSnapshot_PartitionsInstalled(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	installed := store.InstalledAssets()
	if len(installed) != 3 {
		t.Fatalf("expected 3 installed assets, got %d", len(installed))
	}
	for _, a := range installed {
		if a.Symbol == "ZEC" {
			t.Error("inactive asset listed as installed")
		}
	}
	// Positive balances come first.
	if installed[len(installed)-1].Symbol != "LTC" {
		t.Errorf("expected zero-balance LTC last, got %s", installed[len(installed)-1].Symbol)
	}

	if known := store.KnownAssets(); len(known) != 4 {
		t.Errorf("expected 4 known assets, got %d", len(known))
	}
}

func TestEvolutionPercent_ZeroTotalIsZero(t *testing.T) {
	store, _ := newTestStore(t)

	store.IngestSnapshot([]models.Asset{
		{Symbol: "LTC", Status: models.AssetStatusActive, PercentChange24h: dec(12)},
	})

	if ev := store.EvolutionPercent(); !ev.IsZero() {
		t.Errorf("expected 0 for zero-value portfolio, got %s", ev)
	}
}

func TestEvolutionPercent_WeightedByFiatShare(t *testing.T) {
	store, _ := newTestStore(t)

	store.IngestSnapshot([]models.Asset{
		{Symbol: "KMD", KMDValue: dec(75), PercentChange24h: dec(4), Status: models.AssetStatusActive},
		{Symbol: "BTC", KMDValue: dec(25), PercentChange24h: dec(8), Status: models.AssetStatusActive},
	})

	// 0.75*4 + 0.25*8 = 5.00
	if ev := store.EvolutionPercent(); !ev.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected 5, got %s", ev)
	}
}

func TestGetAsset_UnknownSymbol(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if _, err := store.GetAsset("ZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderBalance(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if got := store.RenderBalance("ZZZ"); got != "0" {
		t.Errorf("expected \"0\" for unknown symbol, got %q", got)
	}
	if got := store.RenderBalance("KMD"); got != "10 KMD" {
		t.Errorf("unexpected formatted balance: %q", got)
	}
}

func TestSetTradeLeg_SubscribesWhenPairComplete(t *testing.T) {
	store, sender := newTestStore(t)
	store.IngestSnapshot(testAssets())
	sender.sent = nil

	if err := store.SetTradeLeg(models.LegBase, "KMD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no messages with only one leg set, got %v", sender.channels())
	}

	if err := store.SetTradeLeg(models.LegRel, "BTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].channel != channel.StartDepthStream {
		t.Fatalf("expected a single start message, got %v", sender.channels())
	}

	sender.sent = nil
	if err := store.SetTradeLeg(models.LegRel, "LTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{channel.StopDepthStream, channel.StartDepthStream}
	got := sender.channels()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSetTradeLeg_RejectsSameAsset(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if err := store.SetTradeLeg(models.LegBase, "KMD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetTradeLeg(models.LegRel, "KMD"); !errors.Is(err, ErrSameAsset) {
		t.Errorf("expected ErrSameAsset, got %v", err)
	}
}

func TestSetTradeLeg_UnknownSymbol(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetTradeLeg(models.LegBase, "KMD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAutoSelect_PicksFixedPositionRel(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if err := store.AutoSelect("KMD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base, rel := store.TradeLegs()
	if base != "KMD" {
		t.Errorf("expected base KMD, got %s", base)
	}
	// Known order is KMD, BTC, LTC, ZEC; excluding KMD the pick is position 1.
	if rel != "LTC" {
		t.Errorf("expected rel LTC, got %s", rel)
	}
	if rel == base {
		t.Error("auto-selected rel must differ from base")
	}
}

func TestClearTradeLegs(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if err := store.SetTradeLeg(models.LegBase, "KMD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.ClearTradeLegs()

	base, rel := store.TradeLegs()
	if base != "" || rel != "" {
		t.Errorf("expected empty legs, got %q/%q", base, rel)
	}
}

func TestIngestSnapshot_RefreshesLegBalances(t *testing.T) {
	store, _ := newTestStore(t)
	store.IngestSnapshot(testAssets())

	if err := store.SetTradeLeg(models.LegBase, "KMD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := testAssets()
	updated[0].Balance = dec(42)
	store.IngestSnapshot(updated)

	asset, err := store.GetAsset("KMD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !asset.Balance.Equal(dec(42)) {
		t.Errorf("expected refreshed balance 42, got %s", asset.Balance)
	}
	if base, _ := store.TradeLegs(); base != "KMD" {
		t.Errorf("leg selection lost across ingest: %q", base)
	}
}
