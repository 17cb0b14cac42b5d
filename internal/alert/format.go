package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("turnguard: %s", event.Verdict),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", event.SessionID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Turn:* %d", event.TurnID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.ReasonCode)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %.2f (%s)", event.Risk, event.Status)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "info"
	switch event.Verdict {
	case "block":
		severity = "critical"
	case "review":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("turnguard %s: session %s", event.Verdict, event.SessionID),
			"severity": severity,
			"source":   "turnguard",
			"custom_details": map[string]any{
				"session_id":  event.SessionID,
				"turn_id":     event.TurnID,
				"reason_code": event.ReasonCode,
				"risk":        event.Risk,
				"status":      event.Status,
				"policy_hash": event.PolicyHash,
			},
		},
	}
	return json.Marshal(payload)
}
