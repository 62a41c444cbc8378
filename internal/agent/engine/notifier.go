package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/logger"
)

func (e *Engine) notifyRound(ctx context.Context, report RoundReport) {
	if e.Notifier == nil || report.Skipped {
		return
	}
	if err := e.Notifier.SendStructured(ctx, buildRoundMessage(report)); err != nil {
		logger.Warnf("Round notification failed round=%s: %v", report.RoundID, err)
	}
}

func buildRoundMessage(report RoundReport) notifier.StructuredMessage {
	executed, blocked := report.Counts()
	title := fmt.Sprintf("Round %s", shortID(report.RoundID))
	if report.DryRun {
		title += " (dry run)"
	}
	sections := make([]notifier.MessageSection, 0, len(report.Results))
	for _, res := range report.Results {
		sections = append(sections, notifier.MessageSection{
			Title: res.AgentID,
			Lines: renderAgentLines(res),
		})
	}
	return notifier.StructuredMessage{
		Icon:      "📊",
		Title:     title,
		Sections:  sections,
		Footer:    fmt.Sprintf("executed=%d blocked=%d agents=%d took=%s", executed, blocked, len(report.Results), report.Duration().Truncate(time.Millisecond)),
		Timestamp: report.FinishedAt,
	}
}

func renderAgentLines(res AgentResult) []string {
	if res.Proposed == nil {
		if res.Error != "" {
			return []string{"error: " + res.Error}
		}
		return []string{"no proposal"}
	}
	lines := []string{"proposed: " + renderDecision(*res.Proposed)}
	if res.Final != nil && (res.Final.Action != res.Proposed.Action || res.Final.Quantity != res.Proposed.Quantity) {
		lines = append(lines, "final: "+renderDecision(*res.Final))
	}
	if len(res.Activations) > 0 {
		names := make([]string, 0, len(res.Activations))
		for _, a := range res.Activations {
			names = append(names, string(a.Breaker))
		}
		lines = append(lines, "breakers: "+strings.Join(names, ", "))
	}
	switch {
	case res.Error != "":
		lines = append(lines, "error: "+res.Error)
	case res.Executed:
		lines = append(lines, "→ executed")
	case !res.Allowed:
		lines = append(lines, "→ blocked")
	}
	return lines
}

func renderDecision(d decision.Decision) string {
	act := strings.ToUpper(string(d.Action))
	sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
	if sym == "" || d.Action == decision.ActionHold {
		return act
	}
	return fmt.Sprintf("%s %s %.2f", act, sym, d.Quantity)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
