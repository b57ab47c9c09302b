// Package market provides the double-auction order book shared by every
// tradable market: order intake, price discovery, matching and 24h stats.
package market

import (
	"errors"
	"math"
	"time"
)

// MinPrice is the floor every derived price is clamped to.
const MinPrice = 0.01

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrUnknownMarket = errors.New("unknown market")
)

// Side represents the order side: buy or sell.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderID uniquely identifies an order within one book.
type OrderID int64

// Order is an immutable resting intent. Fills replace the stored value
// with a reduced copy rather than mutating it.
type Order struct {
	ID        OrderID   `json:"id"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	OwnerID   string    `json:"owner_id"`
}

// Notional returns quantity × price.
func (o Order) Notional() float64 { return o.Quantity * o.Price }

// Trade is one execution between a buy and a sell order.
type Trade struct {
	BuyOrderID  OrderID   `json:"buy_order_id"`
	SellOrderID OrderID   `json:"sell_order_id"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Time        time.Time `json:"time"`
}

// PricePoint is one sample of a market's price history.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// Stats is the derived per-market summary recomputed each tick.
type Stats struct {
	MarketID       string  `json:"market_id"`
	TotalSupply    float64 `json:"total_supply"`
	TotalDemand    float64 `json:"total_demand"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_24h"`
	Volume24h      float64 `json:"volume_24h"`
	LiquidityDepth float64 `json:"liquidity_depth"`
	BuyOrders      int     `json:"buy_orders"`
	SellOrders     int     `json:"sell_orders"`
}

// ClampPrice floors p at MinPrice. NaN and Inf collapse to the floor too.
func ClampPrice(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < MinPrice {
		return MinPrice
	}
	return p
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyElasticity scales basePrice by 1 + (1/elasticity)·(ratio−1) and keeps
// the result within [0.5, 2.0] × basePrice.
func ApplyElasticity(basePrice, supplyDemandRatio, elasticity float64) float64 {
	if elasticity <= 0 {
		elasticity = 1
	}
	multiplier := 1 + (1/elasticity)*(supplyDemandRatio-1)
	return Clamp(basePrice*multiplier, basePrice*0.5, basePrice*2.0)
}
