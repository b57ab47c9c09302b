package market

import "time"

// Market is what the orchestrator and the interconnection layer need from
// every tradable market. Book satisfies it; specialised markets embed a
// Book and override Update.
type Market interface {
	ID() string
	Update(dt time.Duration) []Trade
	CurrentPrice() float64
	Stats() Stats
	ApplyExternalEffect(change float64)
}

// Trader is the order-intake surface exposed to gameplay and AI callers.
type Trader interface {
	AddBuyOrder(quantity, price float64, ownerID string) (OrderID, error)
	AddSellOrder(quantity, price float64, ownerID string) (OrderID, error)
	CancelOrder(id OrderID) bool
}

var (
	_ Market = (*Book)(nil)
	_ Trader = (*Book)(nil)
)
