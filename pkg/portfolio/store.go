// Package portfolio holds the authoritative client-side view of all assets
// known to the engine and the user's current trade-leg selection. Derived
// figures (totals, evolution) are computed on demand from the latest
// snapshot rather than cached, so a partially applied update can never be
// observed.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/models"
)

// ErrNotFound is returned by GetAsset for a symbol absent from the current
// snapshot. Callers are expected to only query known symbols; aggregate
// computations never propagate it and treat missing data as zero.
var ErrNotFound = errors.New("asset not found")

// ErrSameAsset is returned when a trade-leg update would select the same
// asset on both sides of the pair.
var ErrSameAsset = errors.New("base and rel must be distinct assets")

// AssetAnnotator fills presentation fields (display name, icon availability)
// on an asset. Lookup tables live outside this package.
type AssetAnnotator interface {
	Annotate(asset models.Asset) models.Asset
}

// BalanceFormatter renders a balance for display. Formatting rules live
// outside this package.
type BalanceFormatter interface {
	FormatBalance(symbol string, amount decimal.Decimal) string
}

// DepthManager is the subscription-lifecycle dependency; satisfied by
// *depth.Subscriber.
type DepthManager interface {
	Subscribe(pair models.Pair) error
	Unsubscribe() error
}

// Config carries the currency settings and optional collaborators.
type Config struct {
	DefaultFiat     string
	ReferenceCrypto string
	FiatRates       map[string]decimal.Decimal
	Annotator       AssetAnnotator
	Formatter       BalanceFormatter
}

// Store is the portfolio aggregator. It is constructed once and passed by
// reference to everything that observes or mutates portfolio state; there is
// no package-level instance.
type Store struct {
	sender    channel.Sender
	depth     DepthManager
	annotate  AssetAnnotator
	format    BalanceFormatter
	logger    *logrus.Logger
	refresh   *rate.Limiter
	fiat      string
	refCrypto string

	mu        sync.RWMutex
	assets    map[string]models.Asset
	known     []string
	installed []string
	fiatRates map[string]decimal.Decimal
	base      string
	rel       string
}

type tradeIntentMessage struct {
	Symbol  string         `json:"coin"`
	LegKind models.LegKind `json:"type"`
}

func NewStore(sender channel.Sender, depth DepthManager, cfg Config, logger *logrus.Logger) *Store {
	annotate := cfg.Annotator
	if annotate == nil {
		annotate = noopAnnotator{}
	}
	format := cfg.Formatter
	if format == nil {
		format = plainFormatter{}
	}

	rates := make(map[string]decimal.Decimal, len(cfg.FiatRates))
	for code, r := range cfg.FiatRates {
		rates[code] = r
	}

	return &Store{
		sender:    sender,
		depth:     depth,
		annotate:  annotate,
		format:    format,
		logger:    logger,
		refresh:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		fiat:      cfg.DefaultFiat,
		refCrypto: cfg.ReferenceCrypto,
		assets:    make(map[string]models.Asset),
		fiatRates: rates,
	}
}

// HandleAssetList is the inbound handler for asset-list messages.
func (s *Store) HandleAssetList(payload json.RawMessage) error {
	var assets []models.Asset
	if err := json.Unmarshal(payload, &assets); err != nil {
		return fmt.Errorf("failed to parse asset list: %w", err)
	}

	s.IngestSnapshot(assets)
	return nil
}

// IngestSnapshot replaces the working asset mapping wholesale. Assets are
// annotated, the fiat valuation is derived from the reference-crypto value,
// and the two orderings the views consume are rebuilt: installed assets with
// positive balances first, known assets with recognized icons first.
func (s *Store) IngestSnapshot(assets []models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fiatRate := s.fiatRates[s.fiat]

	mapping := make(map[string]models.Asset, len(assets))
	known := make([]string, 0, len(assets))
	for _, a := range assets {
		a = s.annotate.Annotate(a)
		a.FiatValue = a.KMDValue.Mul(fiatRate)
		mapping[a.Symbol] = a
		known = append(known, a.Symbol)
	}

	sort.SliceStable(known, func(i, j int) bool {
		return mapping[known[i]].HasIcon && !mapping[known[j]].HasIcon
	})

	installed := make([]string, 0, len(known))
	for _, sym := range known {
		if mapping[sym].Active() {
			installed = append(installed, sym)
		}
	}
	sort.SliceStable(installed, func(i, j int) bool {
		return mapping[installed[i]].Balance.IsPositive() && !mapping[installed[j]].Balance.IsPositive()
	})

	s.assets = mapping
	s.known = known
	s.installed = installed

	s.logger.WithFields(logrus.Fields{
		"known":     len(known),
		"installed": len(installed),
	}).Debug("Asset snapshot ingested")
}

// GetAsset looks up one asset by symbol.
func (s *Store) GetAsset(symbol string) (models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(symbol)
}

func (s *Store) getLocked(symbol string) (models.Asset, error) {
	asset, ok := s.assets[symbol]
	if !ok {
		return models.Asset{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return asset, nil
}

// SetTradeLeg assigns one side of the trade pair. When the assignment
// completes the pair, the depth stream is switched to it; the subscriber
// tears down any previous stream first.
func (s *Store) SetTradeLeg(kind models.LegKind, symbol string) error {
	s.mu.Lock()

	if _, err := s.getLocked(symbol); err != nil {
		s.mu.Unlock()
		return err
	}

	switch kind {
	case models.LegBase:
		if symbol == s.rel {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSameAsset, symbol)
		}
		s.base = symbol
	case models.LegRel:
		if symbol == s.base {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSameAsset, symbol)
		}
		s.rel = symbol
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown trade leg kind %q", kind)
	}

	pair, complete := models.Pair{Base: s.base, Rel: s.rel}, s.base != "" && s.rel != ""
	s.mu.Unlock()

	if !complete {
		return nil
	}

	return s.depth.Subscribe(pair)
}

// HandleTradeIntent is the inbound handler for trade-intent-update messages:
// the engine has activated a coin that was selected as a trade leg.
func (s *Store) HandleTradeIntent(payload json.RawMessage) error {
	var msg tradeIntentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse trade intent: %w", err)
	}

	if err := s.SetTradeLeg(msg.LegKind, msg.Symbol); err != nil {
		return fmt.Errorf("failed to apply trade intent for %s: %w", msg.Symbol, err)
	}
	return nil
}

// AutoSelect sets the given asset as Base and picks a default Rel: the
// asset at position 1 of the known list once the Base asset is excluded.
// This is a convenience default, not a best-counterpart search.
func (s *Store) AutoSelect(symbol string) error {
	if err := s.SetTradeLeg(models.LegBase, symbol); err != nil {
		return err
	}

	s.mu.RLock()
	others := make([]string, 0, len(s.known))
	for _, sym := range s.known {
		if sym != symbol {
			others = append(others, sym)
		}
	}
	s.mu.RUnlock()

	if len(others) == 0 {
		return nil
	}
	pick := others[0]
	if len(others) > 1 {
		pick = others[1]
	}

	return s.SetTradeLeg(models.LegRel, pick)
}

// ClearTradeLegs resets both legs. It does not touch the depth stream;
// callers tearing down a trading view also call DepthManager.Unsubscribe.
func (s *Store) ClearTradeLegs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ""
	s.rel = ""
}

// TradeLegs returns the current selection; empty symbols mean unset.
func (s *Store) TradeLegs() (base, rel string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base, s.rel
}

// TotalValue sums the value of all installed assets, in the reference
// crypto or in the default fiat currency. Assets without a valuation
// contribute zero.
func (s *Store) TotalValue(inReferenceCrypto bool) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalLocked(inReferenceCrypto)
}

func (s *Store) totalLocked(inReferenceCrypto bool) decimal.Decimal {
	total := decimal.Zero
	for _, sym := range s.installed {
		asset := s.assets[sym]
		if inReferenceCrypto {
			total = total.Add(asset.KMDValue)
		} else {
			total = total.Add(asset.FiatValue)
		}
	}
	return total
}

// EvolutionPercent is the portfolio-wide 24h change: each asset's change
// weighted by its fiat share of the total, rounded to two decimal places.
// An empty or zero-valued portfolio evolves by zero, never NaN.
func (s *Store) EvolutionPercent() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.totalLocked(false)
	if total.IsZero() {
		return decimal.Zero
	}

	hundred := decimal.NewFromInt(100)
	weighted := decimal.Zero
	for _, sym := range s.installed {
		asset := s.assets[sym]
		weighted = weighted.Add(asset.FiatValue.Mul(asset.PercentChange24h).Div(hundred))
	}

	return weighted.Div(total).Mul(hundred).Round(2)
}

// Evolution24h returns one asset's 24h percent change.
func (s *Store) Evolution24h(symbol string) (decimal.Decimal, error) {
	asset, err := s.GetAsset(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return asset.PercentChange24h, nil
}

// FiatValue returns one asset's value in the default fiat currency.
func (s *Store) FiatValue(symbol string) (decimal.Decimal, error) {
	asset, err := s.GetAsset(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return asset.FiatValue, nil
}

// RenderBalance formats the balance of the given asset for display. An
// unknown symbol renders as "0"; this accessor degrades instead of failing.
func (s *Store) RenderBalance(symbol string) string {
	asset, err := s.GetAsset(symbol)
	if err != nil {
		return "0"
	}
	return s.format.FormatBalance(symbol, asset.Balance)
}

// InstalledAssets returns the active assets, positive balances first.
func (s *Store) InstalledAssets() []models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.installed)
}

// KnownAssets returns every asset in the snapshot, recognized icons first.
func (s *Store) KnownAssets() []models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.known)
}

func (s *Store) collectLocked(symbols []string) []models.Asset {
	out := make([]models.Asset, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, s.assets[sym])
	}
	return out
}

// SetFiatRate updates the conversion rate for one fiat currency. Takes
// effect on the next snapshot ingestion.
func (s *Store) SetFiatRate(code string, r decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fiatRates[code] = r
}

// Refresh asks the engine to push a fresh portfolio snapshot. Calls are
// rate limited; an elided refresh is not an error since the engine pushes
// snapshots on its own cadence anyway.
func (s *Store) Refresh() error {
	if !s.refresh.Allow() {
		return nil
	}
	return s.sender.Send(channel.RefreshPortfolio, nil)
}

type noopAnnotator struct{}

func (noopAnnotator) Annotate(a models.Asset) models.Asset { return a }

type plainFormatter struct{}

func (plainFormatter) FormatBalance(symbol string, amount decimal.Decimal) string {
	return amount.String() + " " + symbol
}
