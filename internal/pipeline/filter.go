// Package pipeline holds the pure filter and aggregation passes the
// analytics engine runs over trade collections. Functions here never
// mutate their inputs and never fail on malformed individual trades: a
// trade whose field cannot be parsed simply does not match the
// predicate reading it.
package pipeline

import (
	"strings"
	"time"

	"tradepulse/pkg/contracts/domain"
)

// FilterResult is the output of one filter pass. The metadata fields
// exist for observability, not control flow.
type FilterResult struct {
	Trades         []domain.Trade `json:"-"`
	AppliedFilters []string       `json:"applied_filters"`
	OriginalCount  int            `json:"original_count"`
	FilteredCount  int            `json:"filtered_count"`
	Elapsed        time.Duration  `json:"elapsed"`
}

type predicate struct {
	name  string
	match func(domain.Trade) bool
}

// FilterTrades applies every present predicate of spec to trades in a
// fixed order, narrowing the working set monotonically. Absent fields
// impose no constraint; present predicates compose by AND.
func FilterTrades(trades []domain.Trade, spec domain.FilterSpec) FilterResult {
	start := time.Now()

	preds := buildPredicates(spec)
	working := trades
	applied := make([]string, 0, len(preds))

	for _, p := range preds {
		applied = append(applied, p.name)
		next := make([]domain.Trade, 0, len(working))
		for _, t := range working {
			if p.match(t) {
				next = append(next, t)
			}
		}
		working = next
	}

	return FilterResult{
		Trades:         working,
		AppliedFilters: applied,
		OriginalCount:  len(trades),
		FilteredCount:  len(working),
		Elapsed:        time.Since(start),
	}
}

// buildPredicates assembles the present predicates in their fixed
// evaluation order: date range, symbol include, symbol exclude, P&L
// range, status, side, contract range, tags, model, rating,
// time-of-day, weekday, month, duration, custom.
func buildPredicates(spec domain.FilterSpec) []predicate {
	var preds []predicate

	if spec.DateRange != nil {
		preds = append(preds, predicate{"dateRange", dateRangePredicate(*spec.DateRange)})
	}
	if len(spec.Symbols) > 0 {
		allow := stringSet(spec.Symbols)
		preds = append(preds, predicate{"symbols", func(t domain.Trade) bool {
			return allow[t.Symbol]
		}})
	}
	if len(spec.ExcludeSymbols) > 0 {
		deny := stringSet(spec.ExcludeSymbols)
		preds = append(preds, predicate{"excludeSymbols", func(t domain.Trade) bool {
			return !deny[t.Symbol]
		}})
	}
	if spec.PnlRange != nil {
		r := *spec.PnlRange
		metric := spec.PnlMetric
		preds = append(preds, predicate{"pnlRange", func(t domain.Trade) bool {
			return r.Contains(t.Pnl(metric))
		}})
	}
	if len(spec.Statuses) > 0 {
		allow := make(map[domain.TradeStatus]bool, len(spec.Statuses))
		for _, s := range spec.Statuses {
			allow[s] = true
		}
		preds = append(preds, predicate{"status", func(t domain.Trade) bool {
			return allow[t.Status]
		}})
	}
	if len(spec.Sides) > 0 {
		allow := make(map[domain.TradeSide]bool, len(spec.Sides))
		for _, s := range spec.Sides {
			allow[s] = true
		}
		preds = append(preds, predicate{"side", func(t domain.Trade) bool {
			return allow[t.Side]
		}})
	}
	if spec.ContractsRange != nil {
		r := *spec.ContractsRange
		preds = append(preds, predicate{"contracts", func(t domain.Trade) bool {
			return r.Contains(t.ContractsTraded)
		}})
	}
	if len(spec.IncludeTags) > 0 || len(spec.ExcludeTags) > 0 {
		preds = append(preds, predicate{"tags", tagPredicate(spec)})
	}
	if len(spec.Models) > 0 {
		allow := stringSet(spec.Models)
		preds = append(preds, predicate{"model", func(t domain.Trade) bool {
			return allow[t.Model]
		}})
	}
	if len(spec.ExcludeModels) > 0 {
		deny := stringSet(spec.ExcludeModels)
		preds = append(preds, predicate{"excludeModel", func(t domain.Trade) bool {
			return !deny[t.Model]
		}})
	}
	if spec.RatingRange != nil {
		r := *spec.RatingRange
		preds = append(preds, predicate{"rating", func(t domain.Trade) bool {
			return r.Contains(t.Rating)
		}})
	}
	if len(spec.Hours) > 0 {
		allow := make(map[int]bool, len(spec.Hours))
		for _, h := range spec.Hours {
			allow[h] = true
		}
		preds = append(preds, predicate{"timeOfDay", func(t domain.Trade) bool {
			if t.EntryTime == nil {
				return false
			}
			return allow[t.EntryTime.Hour()]
		}})
	}
	if len(spec.Weekdays) > 0 {
		allow := make(map[time.Weekday]bool, len(spec.Weekdays))
		for _, d := range spec.Weekdays {
			allow[d] = true
		}
		preds = append(preds, predicate{"weekday", func(t domain.Trade) bool {
			d, ok := t.OpenedOn()
			if !ok {
				return false
			}
			return allow[d.Weekday()]
		}})
	}
	if len(spec.Months) > 0 {
		allow := make(map[time.Month]bool, len(spec.Months))
		for _, m := range spec.Months {
			allow[m] = true
		}
		preds = append(preds, predicate{"month", func(t domain.Trade) bool {
			d, ok := t.OpenedOn()
			if !ok {
				return false
			}
			return allow[d.Month()]
		}})
	}
	if spec.DurationRange != nil {
		r := *spec.DurationRange
		preds = append(preds, predicate{"duration", func(t domain.Trade) bool {
			d, ok := t.Duration()
			if !ok {
				// Duration is undefined without both wall-clock
				// times; such trades pass through rather than being
				// excluded. Flagged for product confirmation, kept
				// as-is to avoid silently tightening results.
				return true
			}
			return r.Contains(d)
		}})
	}
	if spec.Custom != nil {
		preds = append(preds, predicate{"custom", spec.Custom})
	}

	return preds
}

// dateRangePredicate matches trades opened inside the inclusive range.
// A malformed open date never matches; a malformed or absent bound
// leaves that side unbounded.
func dateRangePredicate(r domain.DateRange) func(domain.Trade) bool {
	var from, to time.Time
	var hasFrom, hasTo bool
	if r.From != "" {
		if d, err := time.Parse(domain.DateLayout, r.From); err == nil {
			from, hasFrom = d, true
		}
	}
	if r.To != "" {
		if d, err := time.Parse(domain.DateLayout, r.To); err == nil {
			to, hasTo = d, true
		}
	}

	return func(t domain.Trade) bool {
		d, ok := t.OpenedOn()
		if !ok {
			return false
		}
		if hasFrom && d.Before(from) {
			return false
		}
		if hasTo && d.After(to) {
			return false
		}
		return true
	}
}

// tagPredicate combines tag include and exclude. Matching is
// case-insensitive substring: a spec tag matches when some trade tag
// contains it. Include honors the ANY/ALL mode; exclude removes the
// trade if any excluded tag matches, regardless of include mode.
func tagPredicate(spec domain.FilterSpec) func(domain.Trade) bool {
	include := lowered(spec.IncludeTags)
	exclude := lowered(spec.ExcludeTags)
	requireAll := spec.TagMode == domain.TagMatchAll

	return func(t domain.Trade) bool {
		tags := lowered(t.Tags)

		for _, ex := range exclude {
			if anyContains(tags, ex) {
				return false
			}
		}

		if len(include) == 0 {
			return true
		}
		if requireAll {
			for _, in := range include {
				if !anyContains(tags, in) {
					return false
				}
			}
			return true
		}
		for _, in := range include {
			if anyContains(tags, in) {
				return true
			}
		}
		return false
	}
}

func anyContains(haystacks []string, needle string) bool {
	for _, h := range haystacks {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}

func lowered(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strings.ToLower(v)
	}
	return out
}

func stringSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
