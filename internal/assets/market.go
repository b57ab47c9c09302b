package assets

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tradeworld/internal/entropy"
	"github.com/talgya/tradeworld/internal/ledger"
	"github.com/talgya/tradeworld/internal/market"
)

// MarketID is the asset market's id in the interconnection graph.
const MarketID = "assets"

const (
	hoursPerYear = 24 * 365.0
	indexBase    = 100.0
	bubbleDecay  = 0.98 // per simulated day
)

var (
	ErrUnknownAsset = errors.New("assets: unknown asset")
	ErrUnknownLease = errors.New("assets: unknown lease")
)

// dailyWear is the per-day chance of a one-step condition downgrade.
var dailyWear = map[Class]float64{
	ClassShip:      0.002,
	ClassAircraft:  0.003,
	ClassWarehouse: 0.001,
	ClassVehicle:   0.004,
}

// Config tunes the stochastic and contractual parts of the market.
type Config struct {
	// WearScale multiplies the daily downgrade chance. Zero disables wear.
	WearScale float64
	// LeaseRate is the default monthly lease payment as a fraction of value.
	LeaseRate float64
}

// DefaultConfig returns production parameters.
func DefaultConfig() Config {
	return Config{WearScale: 1, LeaseRate: 0.012}
}

// Asset is one physical asset.
type Asset struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Class        Class          `json:"class"`
	Spec         Spec           `json:"spec"`
	Owner        string         `json:"owner"`
	Built        time.Time      `json:"built"`
	Condition    Condition      `json:"condition"`
	BaseValue    float64        `json:"base_value"`
	CurrentValue float64        `json:"current_value"`
	Costs        OperatingCosts `json:"operating_costs"`
	LeaseID      string         `json:"lease_id,omitempty"`
}

// AgeYears is the asset's age at t.
func (a Asset) AgeYears(t time.Time) float64 {
	return math.Max(0, t.Sub(a.Built).Hours()/hoursPerYear)
}

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

const (
	LeaseActive     LeaseStatus = "active"
	LeaseCompleted  LeaseStatus = "completed"
	LeaseTerminated LeaseStatus = "terminated"
	LeaseDefault    LeaseStatus = "default"
)

// Lease is a fixed-term monthly-payment contract on one asset.
type Lease struct {
	ID             string      `json:"id"`
	AssetID        string      `json:"asset_id"`
	Lessee         string      `json:"lessee"`
	MonthlyPayment float64     `json:"monthly_payment"`
	TermMonths     int         `json:"term_months"`
	RemainingTerm  int         `json:"remaining_term"`
	Status         LeaseStatus `json:"status"`
	NextPayment    time.Time   `json:"next_payment"`
}

// Market is the asset market. Its order book trades index units; the
// discovered price is the asset value index.
type Market struct {
	*market.Book

	cfg    Config
	rng    *entropy.Source
	ledger *ledger.Ledger

	mu       sync.RWMutex
	assets   map[string]*Asset
	leases   map[string]*Lease
	scalars  Scalars
	baseline float64 // sum of values at registration
}

// NewMarket creates an empty asset market.
func NewMarket(cfg Config, clock market.Clock, rng *entropy.Source, book *ledger.Ledger) *Market {
	if rng == nil {
		rng = entropy.New(0)
	}
	if book == nil {
		book = ledger.New(0)
	}
	m := &Market{
		Book:    market.NewBook(MarketID, indexBase, clock),
		cfg:     cfg,
		rng:     rng,
		ledger:  book,
		assets:  make(map[string]*Asset),
		leases:  make(map[string]*Lease),
		scalars: DefaultScalars(),
	}
	m.Book.SetDiscoverer(m.ValueIndex)
	return m
}

// Register adds an asset of the given age in Excellent condition.
func (m *Market) Register(name, owner string, spec Spec, ageYears float64) (Asset, error) {
	if spec == nil {
		return Asset{}, fmt.Errorf("register %s: missing spec", name)
	}
	if math.IsNaN(ageYears) || math.IsInf(ageYears, 0) {
		return Asset{}, fmt.Errorf("register %s: age %v: %w", name, ageYears, market.ErrInvalidOrder)
	}
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Asset{
		ID:        uuid.NewString(),
		Name:      name,
		Class:     spec.Class(),
		Spec:      spec,
		Owner:     owner,
		Built:     now.Add(-time.Duration(ageYears * hoursPerYear * float64(time.Hour))),
		Condition: Excellent,
		BaseValue: spec.baseValue(),
	}
	m.revalueLocked(a, now)
	m.assets[a.ID] = a
	m.baseline += a.CurrentValue
	return *a, nil
}

func (m *Market) revalueLocked(a *Asset, now time.Time) {
	a.CurrentValue = a.BaseValue *
		DepreciationFactor(a.Class, a.AgeYears(now)) *
		a.Condition.Multiplier() *
		m.scalars.Bubble
	a.Costs = costsFor(a.Spec, a.BaseValue, a.CurrentValue, a.Condition, m.scalars)
}

// Asset returns an asset by id.
func (m *Market) Asset(id string) (Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("asset %s: %w", id, ErrUnknownAsset)
	}
	return *a, nil
}

// Assets returns every asset sorted by name.
func (m *Market) Assets() []Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Repair restores an asset to Excellent condition.
func (m *Market) Repair(id string) (Asset, error) {
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("repair %s: %w", id, ErrUnknownAsset)
	}
	a.Condition = Excellent
	m.revalueLocked(a, now)
	return *a, nil
}

// Damage downgrades each asset one step with probability p and returns
// how many were hit.
func (m *Market) Damage(p float64) int {
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	hit := 0
	for _, a := range m.assets {
		if a.Condition < NeedsRepair && m.rng.Chance(p) {
			a.Condition = a.Condition.Worse()
			m.revalueLocked(a, now)
			hit++
		}
	}
	return hit
}

// Scalars returns the current market-wide inputs.
func (m *Market) Scalars() Scalars {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scalars
}

// ScaleFuelPrice multiplies the fuel scalar (1.0 = baseline) used for
// operating costs. The read and write happen under one lock so a fuel
// shock applied concurrently is never overwritten.
func (m *Market) ScaleFuelPrice(mult float64) {
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult <= 0 {
		return
	}
	m.mu.Lock()
	m.scalars.FuelPrice = math.Max(market.MinPrice, m.scalars.FuelPrice*mult)
	m.mu.Unlock()
}

// RestoreScalars replaces the market-wide inputs with saved ones and
// revalues the fleet. Non-positive readings keep the current value.
func (m *Market) RestoreScalars(sc Scalars) {
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc.FuelPrice > 0 {
		m.scalars.FuelPrice = sc.FuelPrice
	}
	if sc.MaintenanceIndex > 0 {
		m.scalars.MaintenanceIndex = sc.MaintenanceIndex
	}
	if sc.InsuranceRate > 0 {
		m.scalars.InsuranceRate = market.Clamp(sc.InsuranceRate, 0, 1)
	}
	if sc.Bubble > 0 {
		m.scalars.Bubble = sc.Bubble
	}
	for _, a := range m.assets {
		m.revalueLocked(a, now)
	}
}

// ValueIndex is 100 × current total value over total value at registration.
func (m *Market) ValueIndex() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valueIndexLocked()
}

func (m *Market) valueIndexLocked() float64 {
	if m.baseline == 0 {
		return indexBase
	}
	total := 0.0
	for _, a := range m.assets {
		total += a.CurrentValue
	}
	return market.ClampPrice(indexBase * total / m.baseline)
}

// Update wears and revalues every asset, collects lease payments, then
// runs the book step.
func (m *Market) Update(dt time.Duration) []market.Trade {
	if dt > 0 {
		m.step(dt)
	}
	return m.Book.Update(dt)
}

func (m *Market) step(dt time.Duration) {
	now := m.Clock().Now()
	days := dt.Hours() / 24

	m.mu.Lock()
	defer m.mu.Unlock()

	m.scalars.Bubble = 1 + (m.scalars.Bubble-1)*math.Pow(bubbleDecay, days)

	for _, a := range m.assets {
		if daily := dailyWear[a.Class] * m.cfg.WearScale; daily > 0 && a.Condition < NeedsRepair {
			p := 1 - math.Pow(1-math.Min(daily, 1), days)
			if m.rng.Chance(p) {
				a.Condition = a.Condition.Worse()
			}
		}
		m.revalueLocked(a, now)
	}

	for _, l := range m.leases {
		m.collectLocked(l, now)
	}
}

func (m *Market) collectLocked(l *Lease, now time.Time) {
	for l.Status == LeaseActive && !now.Before(l.NextPayment) {
		m.ledger.Record(l.NextPayment, ledger.KindLeasePayment, l.ID, l.Lessee, l.MonthlyPayment)
		l.RemainingTerm--
		l.NextPayment = l.NextPayment.AddDate(0, 1, 0)
		if l.RemainingTerm <= 0 {
			m.closeLeaseLocked(l, LeaseCompleted)
		}
	}
}

func (m *Market) closeLeaseLocked(l *Lease, status LeaseStatus) {
	l.Status = status
	if a, ok := m.assets[l.AssetID]; ok && a.LeaseID == l.ID {
		a.LeaseID = ""
	}
}

// CreateLease leases an unleased asset. A non-positive payment defaults to
// the configured share of the asset's current value.
func (m *Market) CreateLease(assetID, lessee string, termMonths int, monthlyPayment float64) (Lease, error) {
	if termMonths <= 0 {
		return Lease{}, fmt.Errorf("lease %s: term %d: %w", assetID, termMonths, market.ErrInvalidOrder)
	}
	if math.IsNaN(monthlyPayment) || math.IsInf(monthlyPayment, 0) {
		return Lease{}, fmt.Errorf("lease %s: payment %v: %w", assetID, monthlyPayment, market.ErrInvalidOrder)
	}
	now := m.Clock().Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return Lease{}, fmt.Errorf("lease %s: %w", assetID, ErrUnknownAsset)
	}
	if a.LeaseID != "" {
		return Lease{}, fmt.Errorf("lease %s: already leased under %s", assetID, a.LeaseID)
	}
	if monthlyPayment <= 0 {
		monthlyPayment = a.CurrentValue * m.cfg.LeaseRate
	}
	l := &Lease{
		ID:             uuid.NewString(),
		AssetID:        assetID,
		Lessee:         lessee,
		MonthlyPayment: monthlyPayment,
		TermMonths:     termMonths,
		RemainingTerm:  termMonths,
		Status:         LeaseActive,
		NextPayment:    now.AddDate(0, 1, 0),
	}
	m.leases[l.ID] = l
	a.LeaseID = l.ID
	return *l, nil
}

// ShiftSchedules moves build dates and lease due dates by d, so ages and
// payments stay relative to a restored clock.
func (m *Market) ShiftSchedules(d time.Duration) {
	if d == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		a.Built = a.Built.Add(d)
	}
	for _, l := range m.leases {
		l.NextPayment = l.NextPayment.Add(d)
	}
}

// TerminateLease ends an active lease early.
func (m *Market) TerminateLease(id string) (Lease, error) {
	return m.endLease(id, LeaseTerminated)
}

// DefaultLease marks an active lease as defaulted by the lessee.
func (m *Market) DefaultLease(id string) (Lease, error) {
	return m.endLease(id, LeaseDefault)
}

func (m *Market) endLease(id string, status LeaseStatus) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[id]
	if !ok {
		return Lease{}, fmt.Errorf("lease %s: %w", id, ErrUnknownLease)
	}
	if l.Status != LeaseActive {
		return *l, fmt.Errorf("lease %s is %s", id, l.Status)
	}
	m.closeLeaseLocked(l, status)
	return *l, nil
}

// Lease returns a lease by id.
func (m *Market) Lease(id string) (Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[id]
	if !ok {
		return Lease{}, fmt.Errorf("lease %s: %w", id, ErrUnknownLease)
	}
	return *l, nil
}

// Stats is the asset market summary.
type Stats struct {
	market.Stats
	Assets        int               `json:"assets"`
	ByClass       map[Class]int     `json:"by_class"`
	ByCondition   map[Condition]int `json:"by_condition"`
	TotalValue    float64           `json:"total_value"`
	ValueIndex    float64           `json:"value_index"`
	MonthlyCosts  float64           `json:"monthly_operating_costs"`
	ActiveLeases  int               `json:"active_leases"`
	LeaseIncome   float64           `json:"monthly_lease_income"`
	MarketScalars Scalars           `json:"scalars"`
}

// AssetStats returns the book stats plus fleet aggregates.
func (m *Market) AssetStats() Stats {
	s := Stats{
		Stats:       m.Stats(),
		ByClass:     make(map[Class]int),
		ByCondition: make(map[Condition]int),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assets {
		s.Assets++
		s.ByClass[a.Class]++
		s.ByCondition[a.Condition]++
		s.TotalValue += a.CurrentValue
		s.MonthlyCosts += a.Costs.Total
	}
	for _, l := range m.leases {
		if l.Status == LeaseActive {
			s.ActiveLeases++
			s.LeaseIncome += l.MonthlyPayment
		}
	}
	s.ValueIndex = m.valueIndexLocked()
	s.MarketScalars = m.scalars
	return s
}

var _ market.Market = (*Market)(nil)
