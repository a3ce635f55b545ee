package domain

import (
	"time"
)

// TagMatchMode controls how the include-tag predicate combines tags
type TagMatchMode string

const (
	TagMatchAny TagMatchMode = "ANY"
	TagMatchAll TagMatchMode = "ALL"
)

// DateRange is an inclusive calendar date range. An empty bound leaves
// that side unbounded.
type DateRange struct {
	From string `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// FloatRange is an inclusive numeric range with optional bounds.
type FloatRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IntRange is an inclusive integer range with optional bounds.
type IntRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// DurationRange is an inclusive holding-time range with optional bounds.
type DurationRange struct {
	Min *time.Duration `json:"min,omitempty"`
	Max *time.Duration `json:"max,omitempty"`
}

// Contains reports whether v falls inside the range.
func (r FloatRange) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Contains reports whether v falls inside the range.
func (r IntRange) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Contains reports whether d falls inside the range.
func (r DurationRange) Contains(d time.Duration) bool {
	if r.Min != nil && d < *r.Min {
		return false
	}
	if r.Max != nil && d > *r.Max {
		return false
	}
	return true
}

// FilterSpec is a declarative predicate set over a trade collection.
// Every field is optional; an absent field imposes no constraint, and
// present predicates compose by logical AND.
type FilterSpec struct {
	DateRange      *DateRange     `json:"date_range,omitempty"`
	Symbols        []string       `json:"symbols,omitempty"`
	ExcludeSymbols []string       `json:"exclude_symbols,omitempty"`
	PnlRange       *FloatRange    `json:"pnl_range,omitempty"`
	PnlMetric      PnlMetric      `json:"pnl_metric,omitempty" validate:"omitempty,oneof=net gross"`
	Statuses       []TradeStatus  `json:"statuses,omitempty"`
	Sides          []TradeSide    `json:"sides,omitempty"`
	ContractsRange *IntRange      `json:"contracts_range,omitempty"`
	IncludeTags    []string       `json:"include_tags,omitempty"`
	TagMode        TagMatchMode   `json:"tag_mode,omitempty" validate:"omitempty,oneof=ANY ALL"`
	ExcludeTags    []string       `json:"exclude_tags,omitempty"`
	Models         []string       `json:"models,omitempty"`
	ExcludeModels  []string       `json:"exclude_models,omitempty"`
	RatingRange    *IntRange      `json:"rating_range,omitempty"`
	Hours          []int          `json:"hours,omitempty" validate:"omitempty,dive,min=0,max=23"`
	Weekdays       []time.Weekday `json:"weekdays,omitempty"`
	Months         []time.Month   `json:"months,omitempty"`
	DurationRange  *DurationRange `json:"duration_range,omitempty"`

	// Custom is an escape hatch for programmatic callers. It never
	// travels over the wire and does not participate in cache keys
	// beyond its presence.
	Custom func(Trade) bool `json:"-"`
}

// IsEmpty reports whether the spec imposes no constraint at all.
func (s FilterSpec) IsEmpty() bool {
	return s.DateRange == nil && len(s.Symbols) == 0 && len(s.ExcludeSymbols) == 0 &&
		s.PnlRange == nil && len(s.Statuses) == 0 && len(s.Sides) == 0 &&
		s.ContractsRange == nil && len(s.IncludeTags) == 0 && len(s.ExcludeTags) == 0 &&
		len(s.Models) == 0 && len(s.ExcludeModels) == 0 && s.RatingRange == nil &&
		len(s.Hours) == 0 && len(s.Weekdays) == 0 && len(s.Months) == 0 &&
		s.DurationRange == nil && s.Custom == nil
}
