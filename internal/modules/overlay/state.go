package overlay

import (
	"sort"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Action is what the overlay did with one asset on one tick
type Action string

const (
	ActionEnter        Action = "enter"
	ActionHold         Action = "hold"
	ActionStopLoss     Action = "stop_loss"
	ActionTrailingStop Action = "trailing_stop"
	// ActionExit is a target of zero chosen by the optimizer
	ActionExit Action = "exit"
	// ActionClosed marks a state destroyed after a second zero tick
	ActionClosed Action = "closed"
)

// State is the overlay's record of one held asset
type State struct {
	EntryPrice    float64 `json:"entry_price"`
	HighWaterMark float64 `json:"high_water_mark"`
	Drawdown      float64 `json:"drawdown"`
	// Volatility is the EWMA estimate of per-period return volatility
	Volatility float64 `json:"volatility"`
	Weight     float64 `json:"weight"`
	// ZeroTicks counts consecutive ticks at zero weight
	ZeroTicks int `json:"zero_ticks"`
}

func (s State) flat() bool {
	return s.ZeroTicks > 0
}

// Book is everything the overlay carries from one tick to the next. A Book
// is owned by a single run; Step never mutates its argument.
type Book struct {
	States     map[string]State     `json:"states"`
	LastPrices map[string]float64   `json:"last_prices"`
	Returns    []map[string]float64 `json:"returns"`
}

// NewBook returns an empty book
func NewBook() Book {
	return Book{States: map[string]State{}, LastPrices: map[string]float64{}}
}

func (b Book) clone() Book {
	out := Book{
		States:     make(map[string]State, len(b.States)),
		LastPrices: make(map[string]float64, len(b.LastPrices)),
		Returns:    make([]map[string]float64, len(b.Returns)),
	}
	for k, v := range b.States {
		out.States[k] = v
	}
	for k, v := range b.LastPrices {
		out.LastPrices[k] = v
	}
	// rows are never mutated after they are appended
	copy(out.Returns, b.Returns)
	return out
}

// Weights returns the held weights, including flat states at zero
func (b Book) Weights() domain.Weights {
	out := make(domain.Weights, len(b.States))
	for symbol, st := range b.States {
		out[symbol] = st.Weight
	}
	return out
}

func (b Book) symbols() []string {
	out := make([]string, 0, len(b.States))
	for s := range b.States {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tick is one price observation plus the optimizer target in force
type Tick struct {
	Timestamp time.Time
	Prices    map[string]float64
	Targets   domain.Weights
}

// Decision records the overlay's treatment of one asset on one tick
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Action    Action    `json:"action"`
	Target    float64   `json:"target"`
	Weight    float64   `json:"weight"`
	Price     float64   `json:"price"`
	Drawdown  float64   `json:"drawdown"`
}
