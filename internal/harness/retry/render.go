package retry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RenderSummary produces the markdown block appended to CI step summaries.
func RenderSummary(ev *Evaluation) string {
	successAttempt := "none"
	if ev.SuccessAttempt > 0 {
		successAttempt = strconv.Itoa(ev.SuccessAttempt)
	}
	lines := []string{
		"### Checkout Retry",
		fmt.Sprintf("- Status: %s", ev.Status),
		fmt.Sprintf("- Mode: %s", ev.Mode),
		fmt.Sprintf("- Outcomes: %s", strings.Join(ev.Outcomes, ",")),
		fmt.Sprintf("- Max attempts: %d", ev.Policy.MaxAttempts),
		fmt.Sprintf("- Retry delays (s): %s", formatIntList(ev.RetryDelaysSeconds)),
		fmt.Sprintf("- Planned total delay (s): %d", ev.PlannedTotalDelaySeconds),
		fmt.Sprintf("- Actual total delay (s): %d", ev.ActualTotalDelaySeconds),
		fmt.Sprintf("- Success attempt: %s", successAttempt),
	}
	return strings.Join(lines, "\n")
}

func formatIntList(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// EncodeJSON renders the evaluation as indented JSON for --json mode.
func EncodeJSON(ev *Evaluation) ([]byte, error) {
	doc := map[string]any{
		"status":                      ev.Status,
		"mode":                        ev.Mode,
		"outcomes":                    ev.Outcomes,
		"max_attempts":                ev.Policy.MaxAttempts,
		"retry_delays_seconds":        ev.RetryDelaysSeconds,
		"planned_total_delay_seconds": ev.PlannedTotalDelaySeconds,
		"actual_total_delay_seconds":  ev.ActualTotalDelaySeconds,
		"success_attempt":             successAttemptValue(ev),
	}
	return json.MarshalIndent(doc, "", "  ")
}

func successAttemptValue(ev *Evaluation) any {
	if ev.SuccessAttempt == 0 {
		return nil
	}
	return ev.SuccessAttempt
}

// AppendSummary appends the markdown summary to path, creating parent
// directories as needed. An empty path is a no-op.
func AppendSummary(path string, ev *Evaluation) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return appendLines(path, RenderSummary(ev))
}

// AppendOutput appends key=value rows in GitHub output format.
func AppendOutput(path string, ev *Evaluation) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	successAttempt := ""
	if ev.SuccessAttempt > 0 {
		successAttempt = strconv.Itoa(ev.SuccessAttempt)
	}
	rows := []string{
		fmt.Sprintf("checkout_retry_status=%s", ev.Status),
		fmt.Sprintf("checkout_retry_mode=%s", ev.Mode),
		fmt.Sprintf("checkout_retry_success_attempt=%s", successAttempt),
		fmt.Sprintf("checkout_retry_outcomes=%s", strings.Join(ev.Outcomes, ",")),
		fmt.Sprintf("checkout_retry_planned_total_delay_seconds=%d", ev.PlannedTotalDelaySeconds),
		fmt.Sprintf("checkout_retry_actual_total_delay_seconds=%d", ev.ActualTotalDelaySeconds),
	}
	return appendLines(path, strings.Join(rows, "\n"))
}

func appendLines(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(text + "\n"); err != nil {
		return err
	}
	return nil
}
