package main

import (
	"fmt"
	"strconv"

	"gauntlet/internal/harness/retry"
)

// cmdRetry evaluates a recorded attempt-outcome sequence against a backoff
// policy. Purely offline diagnostics: nothing is executed and no delay is
// slept.
func (c *cli) cmdRetry(args []string) int {
	policy := retry.Policy{
		MaxAttempts:          3,
		BaseDelaySeconds:     3,
		CapDelaySeconds:      6,
		MaxTotalDelaySeconds: 12,
	}
	var outcomesRaw string
	var summaryPath, outputPath string
	var asJSON, dryRun bool

	intFlag := func(i *int, name string, dest *int) bool {
		v, ok := c.flagValue(args, i, name)
		if !ok {
			return false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Fprintf(c.stderr, "%s must be an integer (got %q)\n", name, v)
			return false
		}
		*dest = n
		return true
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--outcomes":
			v, ok := c.flagValue(args, &i, "--outcomes")
			if !ok {
				return exitUsage
			}
			outcomesRaw = v
		case "--max-attempts":
			if !intFlag(&i, "--max-attempts", &policy.MaxAttempts) {
				return exitUsage
			}
		case "--base-delay-seconds":
			if !intFlag(&i, "--base-delay-seconds", &policy.BaseDelaySeconds) {
				return exitUsage
			}
		case "--cap-delay-seconds":
			if !intFlag(&i, "--cap-delay-seconds", &policy.CapDelaySeconds) {
				return exitUsage
			}
		case "--max-total-delay-seconds":
			if !intFlag(&i, "--max-total-delay-seconds", &policy.MaxTotalDelaySeconds) {
				return exitUsage
			}
		case "--summary":
			v, ok := c.flagValue(args, &i, "--summary")
			if !ok {
				return exitUsage
			}
			summaryPath = v
		case "--output":
			v, ok := c.flagValue(args, &i, "--output")
			if !ok {
				return exitUsage
			}
			outputPath = v
		case "--json":
			asJSON = true
		case "--dry-run":
			dryRun = true
		default:
			fmt.Fprintf(c.stderr, "unknown arg: %s\n", args[i])
			return exitUsage
		}
	}

	if err := policy.Validate(); err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}

	var outcomes []string
	if dryRun {
		for i := 0; i < policy.MaxAttempts; i++ {
			outcomes = append(outcomes, retry.OutcomeSkipped)
		}
	} else {
		normalized, err := retry.NormalizeOutcomes(outcomesRaw, policy.MaxAttempts)
		if err != nil {
			fmt.Fprintln(c.stderr, err)
			return exitUsage
		}
		outcomes = normalized
	}

	ev, err := retry.Evaluate(policy, outcomes)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}

	if asJSON {
		b, err := retry.EncodeJSON(ev)
		if err != nil {
			fmt.Fprintln(c.stderr, err)
			return exitFail
		}
		fmt.Fprintln(c.stdout, string(b))
	} else {
		fmt.Fprintln(c.stdout, retry.RenderSummary(ev))
	}

	if err := retry.AppendSummary(summaryPath, ev); err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitFail
	}
	if err := retry.AppendOutput(outputPath, ev); err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitFail
	}

	if dryRun || ev.Status == retry.OutcomeSuccess {
		return exitPass
	}
	return exitFail
}
