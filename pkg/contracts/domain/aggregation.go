package domain

import (
	"time"
)

// GroupDimension identifies one grouping axis for aggregation
type GroupDimension string

const (
	GroupBySymbol  GroupDimension = "symbol"
	GroupByStatus  GroupDimension = "status"
	GroupBySide    GroupDimension = "side"
	GroupByModel   GroupDimension = "model"
	GroupByTag     GroupDimension = "tag"
	GroupByDate    GroupDimension = "date"
	GroupByHour    GroupDimension = "hour"
	GroupByWeekday GroupDimension = "weekday"
	GroupByMonth   GroupDimension = "month"
)

// Timeframe buckets the date dimension into calendar periods
type Timeframe string

const (
	TimeframeDay     Timeframe = "day"
	TimeframeWeek    Timeframe = "week"
	TimeframeMonth   Timeframe = "month"
	TimeframeQuarter Timeframe = "quarter"
	TimeframeYear    Timeframe = "year"
)

// MetricFunc is an aggregate function applied over a group's field values
type MetricFunc string

const (
	MetricSum    MetricFunc = "SUM"
	MetricAvg    MetricFunc = "AVG"
	MetricCount  MetricFunc = "COUNT"
	MetricMin    MetricFunc = "MIN"
	MetricMax    MetricFunc = "MAX"
	MetricMedian MetricFunc = "MEDIAN"
	MetricStdDev MetricFunc = "STDDEV"
)

// MetricSpec names one computed metric: a function over a trade field.
type MetricSpec struct {
	Name     string     `json:"name" validate:"required"`
	Function MetricFunc `json:"function" validate:"required,oneof=SUM AVG COUNT MIN MAX MEDIAN STDDEV"`
	Field    string     `json:"field,omitempty"`
}

// SortSpec orders aggregation groups by "count" or a named metric.
// Ties keep group-discovery order (the aggregation sort is stable).
type SortSpec struct {
	By         string `json:"by" validate:"required"`
	Descending bool   `json:"descending,omitempty"`
}

// AggregationConfig describes a grouping + metric pass over trades.
type AggregationConfig struct {
	GroupBy   []GroupDimension `json:"group_by,omitempty" validate:"omitempty,dive,oneof=symbol status side model tag date hour weekday month"`
	Timeframe Timeframe        `json:"timeframe,omitempty" validate:"omitempty,oneof=day week month quarter year"`
	Metrics   []MetricSpec     `json:"metrics,omitempty" validate:"omitempty,dive"`
	Sort      *SortSpec        `json:"sort,omitempty"`
	Limit     int              `json:"limit,omitempty" validate:"omitempty,min=0"`
}

// AggregationGroup is one labeled bucket of an aggregation pass.
// Groups are recomputed wholesale on every pass, never patched.
type AggregationGroup struct {
	Key     string             `json:"key"`
	Label   string             `json:"label"`
	Trades  []Trade            `json:"-"`
	Metrics map[string]float64 `json:"metrics"`
	Count   int                `json:"count"`
}

// AggregationResult is the output of one aggregation pass.
type AggregationResult struct {
	Groups      []AggregationGroup `json:"groups"`
	TotalGroups int                `json:"total_groups"`
	Elapsed     time.Duration      `json:"elapsed"`
}
