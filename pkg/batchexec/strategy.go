package batchexec

import (
	"fmt"

	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
)

// Strategy selects how a pipeline is bounded.
type Strategy string

const (
	// StrategyPreAggregation pages source documents before the pipeline runs.
	StrategyPreAggregation Strategy = "pre-aggregation"
	// StrategyPostAggregation runs the pipeline once and pages its output.
	StrategyPostAggregation Strategy = "post-aggregation"
)

// ParseStrategy converts a flag value to a Strategy. Empty means pre-aggregation.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyPreAggregation, nil
	case StrategyPreAggregation, StrategyPostAggregation:
		return Strategy(s), nil
	default:
		return "", &batchconfig.ConfigurationError{
			Field:  "strategy",
			Value:  s,
			Reason: fmt.Sprintf("must be %s or %s", StrategyPreAggregation, StrategyPostAggregation),
		}
	}
}

func (s Strategy) String() string {
	return string(s)
}
