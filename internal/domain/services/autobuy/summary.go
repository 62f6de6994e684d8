package autobuy

import (
	"fmt"
	"strings"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	"github.com/rail-service/invest_bot/pkg/security"
)

// FormatSummary renders the single notification sent after a run
func FormatSummary(report entities.AutobuyRunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Autobuy %s: %d ok, %d failed\n", report.Date, report.Succeeded(), report.Failed())
	for _, res := range report.Results {
		b.WriteString(formatResult(res))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatResult(res entities.AutobuyPositionResult) string {
	if res.OK {
		line := fmt.Sprintf("✅ %s x%d: order %s", res.Ticker, res.Qty, res.OrderID)
		if res.Status != "" {
			line += " (" + shortStatus(res.Status) + ")"
		}
		return line
	}
	return fmt.Sprintf("❌ %s x%d: %s", res.Ticker, res.Qty, res.Error)
}

// FormatAbort renders the notification for a run that did not complete
func FormatAbort(date string, err error) string {
	return fmt.Sprintf("Autobuy %s aborted: %s", date, security.MaskString(err.Error()))
}

// shortStatus trims the broker enum prefix, EXECUTION_REPORT_STATUS_FILL becomes FILL
func shortStatus(status string) string {
	return strings.TrimPrefix(status, "EXECUTION_REPORT_STATUS_")
}
