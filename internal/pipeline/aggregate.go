package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tradepulse/pkg/contracts/domain"
)

// groupKeySeparator joins per-dimension values into a group key.
const groupKeySeparator = "|"

// AggregateTrades groups trades along the configured dimensions and
// computes every configured metric per group. Groups are rebuilt
// wholesale on each pass. With an empty GroupBy all trades form a
// single group labeled "all".
func AggregateTrades(trades []domain.Trade, cfg domain.AggregationConfig) domain.AggregationResult {
	start := time.Now()

	groups := make(map[string]*domain.AggregationGroup)
	order := make([]string, 0)

	for _, t := range trades {
		key, label := groupIdentity(t, cfg)
		g, ok := groups[key]
		if !ok {
			g = &domain.AggregationGroup{Key: key, Label: label}
			groups[key] = g
			order = append(order, key)
		}
		g.Trades = append(g.Trades, t)
	}

	result := make([]domain.AggregationGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.Count = len(g.Trades)
		g.Metrics = computeGroupMetrics(g.Trades, cfg.Metrics)
		result = append(result, *g)
	}

	if cfg.Sort != nil {
		sortGroups(result, *cfg.Sort)
	}
	totalGroups := len(result)
	if cfg.Limit > 0 && len(result) > cfg.Limit {
		result = result[:cfg.Limit]
	}

	return domain.AggregationResult{
		Groups:      result,
		TotalGroups: totalGroups,
		Elapsed:     time.Since(start),
	}
}

// groupIdentity derives the ordered concatenated key and display label
// for a trade under the config's grouping dimensions.
func groupIdentity(t domain.Trade, cfg domain.AggregationConfig) (string, string) {
	if len(cfg.GroupBy) == 0 {
		return "all", "all"
	}

	parts := make([]string, len(cfg.GroupBy))
	for i, dim := range cfg.GroupBy {
		parts[i] = dimensionValue(t, dim, cfg.Timeframe)
	}
	return strings.Join(parts, groupKeySeparator), strings.Join(parts, " / ")
}

// dimensionValue extracts the per-trade value for one grouping
// dimension. Unparsable or missing inputs group under "unknown"
// rather than failing the pass.
func dimensionValue(t domain.Trade, dim domain.GroupDimension, tf domain.Timeframe) string {
	switch dim {
	case domain.GroupBySymbol:
		if t.Symbol == "" {
			return "unknown"
		}
		return t.Symbol
	case domain.GroupByStatus:
		if t.Status == "" {
			return "unknown"
		}
		return string(t.Status)
	case domain.GroupBySide:
		if t.Side == "" {
			return "unknown"
		}
		return string(t.Side)
	case domain.GroupByModel:
		if t.Model == "" {
			return "no model"
		}
		return t.Model
	case domain.GroupByTag:
		if len(t.Tags) == 0 {
			return "untagged"
		}
		return t.Tags[0]
	case domain.GroupByDate:
		d, ok := t.OpenedOn()
		if !ok {
			return "unknown"
		}
		return bucketDate(d, tf)
	case domain.GroupByHour:
		if t.EntryTime == nil {
			return "unknown"
		}
		return fmt.Sprintf("%02d:00", t.EntryTime.Hour())
	case domain.GroupByWeekday:
		d, ok := t.OpenedOn()
		if !ok {
			return "unknown"
		}
		return d.Weekday().String()
	case domain.GroupByMonth:
		d, ok := t.OpenedOn()
		if !ok {
			return "unknown"
		}
		return d.Month().String()
	default:
		return "unknown"
	}
}

// bucketDate renders a date into its timeframe bucket. Day is the
// default when no timeframe is configured.
func bucketDate(d time.Time, tf domain.Timeframe) string {
	switch tf {
	case domain.TimeframeWeek:
		year, week := d.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case domain.TimeframeMonth:
		return d.Format("2006-01")
	case domain.TimeframeQuarter:
		return fmt.Sprintf("%d-Q%d", d.Year(), (int(d.Month())-1)/3+1)
	case domain.TimeframeYear:
		return d.Format("2006")
	default:
		return d.Format(domain.DateLayout)
	}
}

// computeGroupMetrics evaluates each metric spec independently over
// the member trades' field values, ignoring missing values.
func computeGroupMetrics(trades []domain.Trade, specs []domain.MetricSpec) map[string]float64 {
	metrics := make(map[string]float64, len(specs))
	for _, spec := range specs {
		metrics[spec.Name] = applyMetric(trades, spec)
	}
	return metrics
}

func applyMetric(trades []domain.Trade, spec domain.MetricSpec) float64 {
	if spec.Function == domain.MetricCount && spec.Field == "" {
		return float64(len(trades))
	}

	values := make([]float64, 0, len(trades))
	for _, t := range trades {
		if v, ok := NumericField(t, spec.Field); ok {
			values = append(values, v)
		}
	}

	switch spec.Function {
	case domain.MetricCount:
		return float64(len(values))
	case domain.MetricSum:
		return sum(values)
	case domain.MetricAvg:
		if len(values) == 0 {
			return 0
		}
		return sum(values) / float64(len(values))
	case domain.MetricMin:
		if len(values) == 0 {
			return 0
		}
		m := values[0]
		for _, v := range values[1:] {
			m = math.Min(m, v)
		}
		return m
	case domain.MetricMax:
		if len(values) == 0 {
			return 0
		}
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m
	case domain.MetricMedian:
		return median(values)
	case domain.MetricStdDev:
		return stddev(values)
	default:
		return 0
	}
}

// NumericField reads a named numeric field off a trade. ok is false
// for unknown fields, which aggregation treats as a missing value.
func NumericField(t domain.Trade, field string) (float64, bool) {
	switch field {
	case "netPnl":
		return t.NetPnl, true
	case "grossPnl":
		return t.GrossPnl, true
	case "commissions":
		return t.Commissions, true
	case "contractsTraded":
		return float64(t.ContractsTraded), true
	case "rating":
		return float64(t.Rating), true
	default:
		return 0, false
	}
}

// sortGroups orders groups by count or a named metric. The sort is
// stable so ties retain group-discovery order.
func sortGroups(groups []domain.AggregationGroup, spec domain.SortSpec) {
	value := func(g domain.AggregationGroup) float64 {
		if spec.By == "count" {
			return float64(g.Count)
		}
		return g.Metrics[spec.By]
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if spec.Descending {
			return value(groups[i]) > value(groups[j])
		}
		return value(groups[i]) < value(groups[j])
	})
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// median is the population median: the middle value, or the mean of
// the two middle values for an even count.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	cp := append([]float64(nil), values...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

// stddev is the population standard deviation over present values.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := sum(values) / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
