package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepthQuote is one row of a market-depth snapshot.
type DepthQuote struct {
	Price        decimal.Decimal `json:"price"`
	MaxVolume    decimal.Decimal `json:"maxvolume"`
	MinVolume    decimal.Decimal `json:"minvolume"`
	AgeSeconds   int             `json:"age"`
	UTXOCount    int             `json:"numutxos"`
	DepthPercent decimal.Decimal `json:"depth"`
}

// DepthBook is a full replacement snapshot for one pair. The engine always
// delivers the whole book, never a diff.
type DepthBook struct {
	Pair       Pair         `json:"pair"`
	Asks       []DepthQuote `json:"asks"`
	Bids       []DepthQuote `json:"bids"`
	Generation uint64       `json:"generation"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// MaxDepth returns the largest depth percentage among the given quotes,
// used to scale depth bars relative to the deepest row.
func MaxDepth(quotes []DepthQuote) decimal.Decimal {
	max := decimal.Zero
	for _, q := range quotes {
		if q.DepthPercent.GreaterThan(max) {
			max = q.DepthPercent
		}
	}
	return max
}
