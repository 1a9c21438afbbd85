package core

import (
	"fmt"
	"strings"
	"time"
)

// Fairness selects how funds are granted when several blocked withdrawals
// could proceed after one deposit.
type Fairness string

const (
	// FairnessArrival grants funds strictly in arrival order. A withdrawal only
	// takes funds while no earlier demand is still waiting, so a large early
	// demand cannot be starved by later small ones.
	FairnessArrival Fairness = "arrival"
	// FairnessNone lets every waiter whose amount is covered race for the lock.
	FairnessNone Fairness = "none"
)

const (
	// DefaultFairness is applied when no policy is configured.
	DefaultFairness = FairnessArrival
	// DefaultTrackStages is the stage count of a track section.
	DefaultTrackStages = 5
	// DefaultStageDelay paces each stage in demonstrations. Library callers
	// get no delay unless they ask for one.
	DefaultStageDelay = 500 * time.Millisecond
)

// ParseFairness maps a configuration string onto a Fairness policy. Empty
// input selects DefaultFairness.
func ParseFairness(raw string) (Fairness, error) {
	switch Fairness(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return DefaultFairness, nil
	case FairnessArrival, "fifo":
		return FairnessArrival, nil
	case FairnessNone:
		return FairnessNone, nil
	default:
		return "", Failure{
			Code:   CodeInvalidConfig,
			Detail: fmt.Sprintf("fairness must be %q or %q, got %q", FairnessArrival, FairnessNone, raw),
		}
	}
}
