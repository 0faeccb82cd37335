package models

import (
	"github.com/shopspring/decimal"
)

type AssetStatus string

const (
	AssetStatusActive   AssetStatus = "active"
	AssetStatusInactive AssetStatus = "inactive"
)

// Asset is one coin known to the trading engine. The engine sends the full
// list wholesale; assets are never deleted, only marked inactive.
type Asset struct {
	Symbol           string          `json:"coin"`
	Name             string          `json:"name,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	Status           AssetStatus     `json:"status"`
	KMDValue         decimal.Decimal `json:"KMDvalue"`
	FiatValue        decimal.Decimal `json:"fiat"`
	PercentChange24h decimal.Decimal `json:"perc"`
	Installed        bool            `json:"installed"`
	HasIcon          bool            `json:"-"`
}

func (a Asset) Active() bool {
	return a.Status == AssetStatusActive
}

type LegKind string

const (
	LegBase LegKind = "Base"
	LegRel  LegKind = "Rel"
)

// Pair is a base/rel trading pair selection.
type Pair struct {
	Base string `json:"base"`
	Rel  string `json:"rel"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Rel
}
