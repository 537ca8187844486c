// Package retry implements the deterministic backoff policy used for
// environment-level retry diagnostics. Evaluation is offline: it scores a
// recorded sequence of attempt outcomes against a policy without sleeping.
package retry

import (
	"fmt"
	"sort"
	"strings"
)

// Attempt outcomes accepted by Evaluate.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
	OutcomeUnknown   = "unknown"
)

var allowedOutcomes = map[string]struct{}{
	OutcomeSuccess:   {},
	OutcomeFailure:   {},
	OutcomeSkipped:   {},
	OutcomeCancelled: {},
	OutcomeUnknown:   {},
}

// Policy is pure configuration for exponential backoff with a hard cap.
type Policy struct {
	MaxAttempts          int
	BaseDelaySeconds     int
	CapDelaySeconds      int
	MaxTotalDelaySeconds int
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.BaseDelaySeconds < 0 {
		return fmt.Errorf("base delay must be >= 0 (got %d)", p.BaseDelaySeconds)
	}
	if p.CapDelaySeconds < 0 {
		return fmt.Errorf("cap delay must be >= 0 (got %d)", p.CapDelaySeconds)
	}
	if p.CapDelaySeconds < p.BaseDelaySeconds {
		return fmt.Errorf("cap delay %d must be >= base delay %d", p.CapDelaySeconds, p.BaseDelaySeconds)
	}
	if p.MaxTotalDelaySeconds < 0 {
		return fmt.Errorf("max total delay must be >= 0 (got %d)", p.MaxTotalDelaySeconds)
	}
	return nil
}

// ComputeDelays returns the planned delay before each retry: the k-th retry
// (1-indexed) waits min(base * 2^(k-1), cap) seconds. The slice has
// MaxAttempts-1 entries and is empty for a single-attempt policy.
func ComputeDelays(p Policy) []int {
	delays := make([]int, 0, p.MaxAttempts-1)
	for retry := 1; retry < p.MaxAttempts; retry++ {
		delay := p.BaseDelaySeconds * (1 << (retry - 1))
		if delay > p.CapDelaySeconds {
			delay = p.CapDelaySeconds
		}
		delays = append(delays, delay)
	}
	return delays
}

// Evaluation modes.
const (
	ModeFirstAttemptSuccess = "first_attempt_success"
	ModeResolvedAfterRetry  = "resolved_after_retry"
	ModeRetriesExhausted    = "checkout_retries_exhausted"
)

// Evaluation is the scored result of a policy against observed outcomes.
// SuccessAttempt is 1-indexed; zero means no attempt succeeded.
type Evaluation struct {
	Policy                   Policy
	Outcomes                 []string
	RetryDelaysSeconds       []int
	PlannedTotalDelaySeconds int
	ActualTotalDelaySeconds  int
	SuccessAttempt           int
	Status                   string
	Mode                     string
}

// NormalizeOutcomes parses a comma-separated outcome list, lowercases each
// entry, and right-pads with "skipped" up to maxAttempts. More outcomes than
// attempts is a fatal input error.
func NormalizeOutcomes(raw string, maxAttempts int) ([]string, error) {
	var outcomes []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		outcomes = append(outcomes, entry)
	}
	if len(outcomes) > maxAttempts {
		return nil, fmt.Errorf("outcomes length %d exceeds max attempts %d", len(outcomes), maxAttempts)
	}
	for _, outcome := range outcomes {
		if _, ok := allowedOutcomes[outcome]; !ok {
			return nil, fmt.Errorf("unsupported outcome %q; expected one of: %s", outcome, allowedOutcomeList())
		}
	}
	for len(outcomes) < maxAttempts {
		outcomes = append(outcomes, OutcomeSkipped)
	}
	return outcomes, nil
}

func allowedOutcomeList() string {
	names := make([]string, 0, len(allowedOutcomes))
	for name := range allowedOutcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Evaluate scores outcomes against the policy. The planned delay budget is a
// configuration-time invariant: exceeding MaxTotalDelaySeconds is an error
// here, never a silent clamp. Outcomes must already be normalized to exactly
// MaxAttempts entries (see NormalizeOutcomes).
func Evaluate(p Policy, outcomes []string) (*Evaluation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(outcomes) != p.MaxAttempts {
		return nil, fmt.Errorf("expected %d outcomes, got %d", p.MaxAttempts, len(outcomes))
	}

	delays := ComputeDelays(p)
	planned := 0
	for _, d := range delays {
		planned += d
	}
	if planned > p.MaxTotalDelaySeconds {
		return nil, fmt.Errorf("planned total retry delay exceeds budget: %ds > %ds", planned, p.MaxTotalDelaySeconds)
	}

	successAttempt := 0
	for i, outcome := range outcomes {
		if outcome == OutcomeSuccess {
			successAttempt = i + 1
			break
		}
	}

	ev := &Evaluation{
		Policy:                   p,
		Outcomes:                 outcomes,
		RetryDelaysSeconds:       delays,
		PlannedTotalDelaySeconds: planned,
		SuccessAttempt:           successAttempt,
	}
	if successAttempt == 0 {
		ev.ActualTotalDelaySeconds = planned
		ev.Status = OutcomeFailure
		ev.Mode = ModeRetriesExhausted
		return ev, nil
	}

	actual := 0
	for _, d := range delays[:successAttempt-1] {
		actual += d
	}
	ev.ActualTotalDelaySeconds = actual
	ev.Status = OutcomeSuccess
	if successAttempt == 1 {
		ev.Mode = ModeFirstAttemptSuccess
	} else {
		ev.Mode = ModeResolvedAfterRetry
	}
	return ev, nil
}
