package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradepulse/pkg/contracts/domain"
)

// Cache key namespaces. Every derived-result entry carries the
// TradesDependency tag so replacing the trade set cascades through all
// namespaces at once.
const (
	NamespaceFilter  = "filter"
	NamespaceMetrics = "metrics"
	NamespaceAgg     = "agg"
	NamespaceChart   = "chart"

	// TradesDependency is the dependency tag invalidated whenever the
	// underlying trade set changes.
	TradesDependency = "trades:*"
)

// FilterFingerprint renders a filter spec as a deterministic string:
// sorted, namespaced fragments, with unordered collection inputs
// sorted so reordering a symbol list cannot cause a cache miss.
func FilterFingerprint(spec domain.FilterSpec) string {
	var frags []string

	if spec.DateRange != nil {
		frags = append(frags, "dr:"+spec.DateRange.From+"-"+spec.DateRange.To)
	}
	if len(spec.Symbols) > 0 {
		frags = append(frags, "s:"+sortedJoin(spec.Symbols))
	}
	if len(spec.ExcludeSymbols) > 0 {
		frags = append(frags, "xs:"+sortedJoin(spec.ExcludeSymbols))
	}
	if spec.PnlRange != nil {
		metric := spec.PnlMetric
		if metric == "" {
			metric = domain.PnlMetricNet
		}
		frags = append(frags, fmt.Sprintf("p:%s:%s-%s", metric,
			floatBound(spec.PnlRange.Min), floatBound(spec.PnlRange.Max)))
	}
	if len(spec.Statuses) > 0 {
		vals := make([]string, len(spec.Statuses))
		for i, v := range spec.Statuses {
			vals[i] = string(v)
		}
		frags = append(frags, "st:"+sortedJoin(vals))
	}
	if len(spec.Sides) > 0 {
		vals := make([]string, len(spec.Sides))
		for i, v := range spec.Sides {
			vals[i] = string(v)
		}
		frags = append(frags, "sd:"+sortedJoin(vals))
	}
	if spec.ContractsRange != nil {
		frags = append(frags, "c:"+intBound(spec.ContractsRange.Min)+"-"+intBound(spec.ContractsRange.Max))
	}
	if len(spec.IncludeTags) > 0 {
		mode := spec.TagMode
		if mode == "" {
			mode = domain.TagMatchAny
		}
		frags = append(frags, "t:"+string(mode)+":"+sortedJoin(spec.IncludeTags))
	}
	if len(spec.ExcludeTags) > 0 {
		frags = append(frags, "xt:"+sortedJoin(spec.ExcludeTags))
	}
	if len(spec.Models) > 0 {
		frags = append(frags, "m:"+sortedJoin(spec.Models))
	}
	if len(spec.ExcludeModels) > 0 {
		frags = append(frags, "xm:"+sortedJoin(spec.ExcludeModels))
	}
	if spec.RatingRange != nil {
		frags = append(frags, "r:"+intBound(spec.RatingRange.Min)+"-"+intBound(spec.RatingRange.Max))
	}
	if len(spec.Hours) > 0 {
		frags = append(frags, "h:"+sortedInts(spec.Hours))
	}
	if len(spec.Weekdays) > 0 {
		vals := make([]int, len(spec.Weekdays))
		for i, v := range spec.Weekdays {
			vals[i] = int(v)
		}
		frags = append(frags, "wd:"+sortedInts(vals))
	}
	if len(spec.Months) > 0 {
		vals := make([]int, len(spec.Months))
		for i, v := range spec.Months {
			vals[i] = int(v)
		}
		frags = append(frags, "mo:"+sortedInts(vals))
	}
	if spec.DurationRange != nil {
		frags = append(frags, "d:"+durBound(spec.DurationRange.Min)+"-"+durBound(spec.DurationRange.Max))
	}
	if spec.Custom != nil {
		// Custom predicates are opaque; their presence still has to
		// change the key so a custom-filtered result is never served
		// for the plain spec.
		frags = append(frags, "custom:1")
	}

	if len(frags) == 0 {
		return "none"
	}
	sort.Strings(frags)
	return strings.Join(frags, "|")
}

// AggregationFingerprint renders an aggregation config deterministically.
// GroupBy and Metrics keep declaration order because order is
// semantically significant for both.
func AggregationFingerprint(cfg domain.AggregationConfig) string {
	var frags []string

	if len(cfg.GroupBy) > 0 {
		vals := make([]string, len(cfg.GroupBy))
		for i, v := range cfg.GroupBy {
			vals[i] = string(v)
		}
		frags = append(frags, "g:"+strings.Join(vals, ","))
	}
	if cfg.Timeframe != "" {
		frags = append(frags, "tf:"+string(cfg.Timeframe))
	}
	if len(cfg.Metrics) > 0 {
		vals := make([]string, len(cfg.Metrics))
		for i, m := range cfg.Metrics {
			vals[i] = m.Name + ":" + string(m.Function) + ":" + m.Field
		}
		frags = append(frags, "m:"+strings.Join(vals, ","))
	}
	if cfg.Sort != nil {
		dir := "asc"
		if cfg.Sort.Descending {
			dir = "desc"
		}
		frags = append(frags, "sort:"+cfg.Sort.By+":"+dir)
	}
	if cfg.Limit > 0 {
		frags = append(frags, "lim:"+strconv.Itoa(cfg.Limit))
	}

	if len(frags) == 0 {
		return "none"
	}
	return strings.Join(frags, "|")
}

// FilterKey is the cache key for a filter pass over n trades.
func FilterKey(spec domain.FilterSpec, tradeCount int) string {
	return fmt.Sprintf("%s:%s:%d", NamespaceFilter, FilterFingerprint(spec), tradeCount)
}

// MetricsKey is the cache key for the summary metrics of a filtered set.
func MetricsKey(filterFingerprint string, tradeCount int) string {
	return fmt.Sprintf("%s:%s:%d", NamespaceMetrics, filterFingerprint, tradeCount)
}

// AggregationKey is the cache key for an aggregation pass.
func AggregationKey(cfg domain.AggregationConfig, filterFingerprint string, tradeCount int) string {
	return fmt.Sprintf("%s:%s:%s:%d", NamespaceAgg, AggregationFingerprint(cfg), filterFingerprint, tradeCount)
}

// ChartKey is the cache key for one named chart series. It folds in
// the series name, the active filter fingerprint and the trade count
// so any semantically relevant change produces a new key.
func ChartKey(series, filterFingerprint string, tradeCount int) string {
	return fmt.Sprintf("%s:%s:%s:%d", NamespaceChart, series, filterFingerprint, tradeCount)
}

func sortedJoin(vals []string) string {
	cp := append([]string(nil), vals...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

func sortedInts(vals []int) string {
	cp := append([]int(nil), vals...)
	sort.Ints(cp)
	strs := make([]string, len(cp))
	for i, v := range cp {
		strs[i] = strconv.Itoa(v)
	}
	return strings.Join(strs, ",")
}

func floatBound(v *float64) string {
	if v == nil {
		return "inf"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func intBound(v *int) string {
	if v == nil {
		return "inf"
	}
	return strconv.Itoa(*v)
}

func durBound(v *time.Duration) string {
	if v == nil {
		return "inf"
	}
	return v.String()
}
