package market

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	historyWindow   = 24 * time.Hour
	defaultTapeSize = 256
	fillEpsilon     = 1e-9
	blendOld        = 0.9
	pressureNudge   = 0.01
)

// Book is the double-auction order book behind every market.
//
// Order intake and cancellation may be called from any goroutine. Resting
// orders live in concurrent maps; matching works on a sorted snapshot.
// matchMu serialises the phases that rewrite resting orders (matching,
// spoilage, cancel) so a cancel can never race a fill.
type Book struct {
	id    string
	clock Clock

	buys  *xsync.MapOf[OrderID, Order]
	sells *xsync.MapOf[OrderID, Order]
	seq   atomic.Int64

	matchMu sync.Mutex

	mu        sync.RWMutex
	price     float64
	history   []PricePoint
	volume24h float64
	tape      []Trade
	tapeSize  int
	discover  func() float64
}

// NewBook creates an empty book seeded at initialPrice.
func NewBook(id string, initialPrice float64, clock Clock) *Book {
	if clock == nil {
		clock = SystemClock{}
	}
	b := &Book{
		id:       id,
		clock:    clock,
		buys:     xsync.NewMapOf[OrderID, Order](),
		sells:    xsync.NewMapOf[OrderID, Order](),
		price:    ClampPrice(initialPrice),
		tapeSize: defaultTapeSize,
	}
	b.history = append(b.history, PricePoint{Time: clock.Now(), Price: b.price})
	return b
}

// ID returns the market identifier.
func (b *Book) ID() string { return b.id }

// Clock returns the clock the book reads simulated time from.
func (b *Book) Clock() Clock { return b.clock }

// SetDiscoverer replaces the price discovery step used by Update.
// Specialised markets install their own model here.
func (b *Book) SetDiscoverer(fn func() float64) {
	b.mu.Lock()
	b.discover = fn
	b.mu.Unlock()
}

// AddBuyOrder rests a buy order and returns its id.
func (b *Book) AddBuyOrder(quantity, price float64, ownerID string) (OrderID, error) {
	return b.add(SideBuy, quantity, price, ownerID)
}

// AddSellOrder rests a sell order and returns its id.
func (b *Book) AddSellOrder(quantity, price float64, ownerID string) (OrderID, error) {
	return b.add(SideSell, quantity, price, ownerID)
}

func (b *Book) add(side Side, quantity, price float64, ownerID string) (OrderID, error) {
	if !(quantity > 0) || !(price > 0) || math.IsInf(quantity, 0) || math.IsInf(price, 0) {
		return 0, ErrInvalidOrder
	}
	o := Order{
		ID:        OrderID(b.seq.Add(1)),
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: b.clock.Now(),
		OwnerID:   ownerID,
	}
	b.sideMap(side).Store(o.ID, o)
	return o.ID, nil
}

// CancelOrder removes a resting order. Returns false if it is not resting.
func (b *Book) CancelOrder(id OrderID) bool {
	b.matchMu.Lock()
	defer b.matchMu.Unlock()
	if _, ok := b.buys.LoadAndDelete(id); ok {
		return true
	}
	_, ok := b.sells.LoadAndDelete(id)
	return ok
}

// Order looks up a resting order.
func (b *Book) Order(id OrderID) (Order, bool) {
	if o, ok := b.buys.Load(id); ok {
		return o, true
	}
	return b.sells.Load(id)
}

func (b *Book) sideMap(s Side) *xsync.MapOf[OrderID, Order] {
	if s == SideBuy {
		return b.buys
	}
	return b.sells
}

// Orders returns a price-time sorted snapshot of one side: buys highest
// first, sells lowest first.
func (b *Book) Orders(side Side) []Order {
	m := b.sideMap(side)
	out := make([]Order, 0, m.Size())
	m.Range(func(_ OrderID, o Order) bool {
		out = append(out, o)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if side == SideBuy {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TotalQuantity sums resting quantity on one side.
func (b *Book) TotalQuantity(side Side) float64 {
	total := 0.0
	b.sideMap(side).Range(func(_ OrderID, o Order) bool {
		total += o.Quantity
		return true
	})
	return total
}

func (b *Book) notional(side Side) float64 {
	total := 0.0
	b.sideMap(side).Range(func(_ OrderID, o Order) bool {
		total += o.Notional()
		return true
	})
	return total
}

// LiquidityDepth is Σ(buy qty×price) + Σ(sell qty×price).
func (b *Book) LiquidityDepth() float64 {
	return b.notional(SideBuy) + b.notional(SideSell)
}

// DiscoverPrice finds the equilibrium price for the current book.
//
// With buys sorted descending and sells ascending, the first crossing pair
// is the top of book; the result is that pair's midpoint. This does not
// clear the full depth at one price. Without a crossing the current price
// is nudged 1% toward the side with more notional pressure.
func (b *Book) DiscoverPrice() float64 {
	buys := b.Orders(SideBuy)
	sells := b.Orders(SideSell)
	if len(buys) > 0 && len(sells) > 0 && buys[0].Price >= sells[0].Price {
		return ClampPrice((buys[0].Price + sells[0].Price) / 2)
	}

	price := b.CurrentPrice()
	buyPressure, sellPressure := b.notional(SideBuy), b.notional(SideSell)
	switch {
	case buyPressure > sellPressure:
		price *= 1 + pressureNudge
	case sellPressure > buyPressure:
		price *= 1 - pressureNudge
	}
	return ClampPrice(price)
}

// MatchOrders crosses every buy (highest first) against every sell (lowest
// first) while buy price ≥ sell price. Each trade executes min(remaining)
// at the pair midpoint. Fully filled orders are removed; partial fills keep
// their residual quantity.
func (b *Book) MatchOrders() []Trade {
	b.matchMu.Lock()
	defer b.matchMu.Unlock()

	buys := b.Orders(SideBuy)
	sells := b.Orders(SideSell)
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	buyLeft := make([]float64, len(buys))
	for i, o := range buys {
		buyLeft[i] = o.Quantity
	}
	sellLeft := make([]float64, len(sells))
	for j, o := range sells {
		sellLeft[j] = o.Quantity
	}

	now := b.clock.Now()
	var trades []Trade
	for i, buy := range buys {
		for j, sell := range sells {
			if buyLeft[i] <= fillEpsilon {
				break
			}
			if sellLeft[j] <= fillEpsilon {
				continue
			}
			if buy.Price < sell.Price {
				break
			}
			qty := math.Min(buyLeft[i], sellLeft[j])
			buyLeft[i] -= qty
			sellLeft[j] -= qty
			trades = append(trades, Trade{
				BuyOrderID:  buy.ID,
				SellOrderID: sell.ID,
				Quantity:    qty,
				Price:       (buy.Price + sell.Price) / 2,
				Time:        now,
			})
		}
	}
	if len(trades) == 0 {
		return nil
	}

	applyFills(b.buys, buys, buyLeft)
	applyFills(b.sells, sells, sellLeft)

	executed := 0.0
	for _, t := range trades {
		executed += t.Quantity * t.Price
	}

	b.mu.Lock()
	b.volume24h += executed
	b.tape = append(b.tape, trades...)
	if over := len(b.tape) - b.tapeSize; over > 0 {
		b.tape = append([]Trade(nil), b.tape[over:]...)
	}
	b.mu.Unlock()

	return trades
}

func applyFills(m *xsync.MapOf[OrderID, Order], orders []Order, left []float64) {
	for i, o := range orders {
		if left[i] == o.Quantity {
			continue
		}
		if left[i] <= fillEpsilon {
			m.Delete(o.ID)
			continue
		}
		o.Quantity = left[i]
		m.Store(o.ID, o)
	}
}

// DecaySells multiplies every sell order's quantity by factor and removes
// orders whose residual falls below minQty. Returns the number removed.
func (b *Book) DecaySells(factor, minQty float64) int {
	if factor >= 1 {
		return 0
	}
	b.matchMu.Lock()
	defer b.matchMu.Unlock()

	removed := 0
	for _, o := range b.Orders(SideSell) {
		o.Quantity *= factor
		if o.Quantity < minQty {
			b.sells.Delete(o.ID)
			removed++
			continue
		}
		b.sells.Store(o.ID, o)
	}
	return removed
}

// Update runs one market step: discover and blend the price, record it,
// prune history older than 24h, decay the 24h volume by elapsed-hours/24
// and match the book. Trades executed in this step count at full value.
func (b *Book) Update(dt time.Duration) []Trade {
	b.mu.RLock()
	discover := b.discover
	b.mu.RUnlock()
	if discover == nil {
		discover = b.DiscoverPrice
	}
	discovered := discover()

	now := b.clock.Now()
	b.mu.Lock()
	b.price = ClampPrice(blendOld*b.price + (1-blendOld)*discovered)
	b.history = append(b.history, PricePoint{Time: now, Price: b.price})
	b.pruneHistoryLocked(now)
	if hours := dt.Hours(); hours > 0 {
		b.volume24h *= math.Max(0, 1-hours/24)
	}
	b.mu.Unlock()

	return b.MatchOrders()
}

func (b *Book) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-historyWindow)
	i := 0
	for i < len(b.history)-1 && b.history[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history = append([]PricePoint(nil), b.history[i:]...)
	}
}

// CurrentPrice returns the last blended price.
func (b *Book) CurrentPrice() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.price
}

// SetPrice overwrites the current price (restore, admin).
func (b *Book) SetPrice(p float64) {
	b.mu.Lock()
	b.price = ClampPrice(p)
	b.mu.Unlock()
}

// AdjustPrice multiplies the current price by mult and returns the result.
func (b *Book) AdjustPrice(mult float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price = ClampPrice(b.price * mult)
	return b.price
}

// ApplyExternalEffect moves the price by a fractional change (0.02 = +2%).
func (b *Book) ApplyExternalEffect(change float64) {
	b.AdjustPrice(1 + change)
}

// Volume24h returns the decayed executed value over the trailing day.
func (b *Book) Volume24h() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volume24h
}

// History returns a copy of the retained price points.
func (b *Book) History() []PricePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]PricePoint(nil), b.history...)
}

// RecentTrades returns up to n of the newest trades, oldest first.
func (b *Book) RecentTrades(n int) []Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.tape) {
		n = len(b.tape)
	}
	return append([]Trade(nil), b.tape[len(b.tape)-n:]...)
}

// Stats derives the market summary. Price change compares against the
// oldest point still inside the 24h window.
func (b *Book) Stats() Stats {
	buyOrders, sellOrders := b.buys.Size(), b.sells.Size()
	supply, demand := b.TotalQuantity(SideSell), b.TotalQuantity(SideBuy)
	depth := b.LiquidityDepth()

	b.mu.RLock()
	defer b.mu.RUnlock()
	change := 0.0
	if len(b.history) > 0 {
		if ref := b.history[0].Price; ref > 0 {
			change = (b.price - ref) / ref
		}
	}
	return Stats{
		MarketID:       b.id,
		TotalSupply:    supply,
		TotalDemand:    demand,
		CurrentPrice:   b.price,
		PriceChange24h: change,
		Volume24h:      b.volume24h,
		LiquidityDepth: depth,
		BuyOrders:      buyOrders,
		SellOrders:     sellOrders,
	}
}
