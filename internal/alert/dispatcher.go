package alert

import "sync"

// Dispatcher fans out alert events to matching webhook configurations.
// Repeated alerts for the same session and reason code are deduplicated:
// one BLOCK latch produces one page, not one per subsequent turn.
type Dispatcher struct {
	configs []WebhookConfig
	seen    sync.Map // session_id + "\x00" + reason_code → struct{}
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches the
// verdict. Sends run in goroutines and do not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	key := event.SessionID + "\x00" + event.ReasonCode
	if _, dup := d.seen.LoadOrStore(key, struct{}{}); dup {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event.Verdict) {
			go Send(cfg, event)
		}
	}
}

func matches(events []string, verdict string) bool {
	for _, e := range events {
		if e == verdict {
			return true
		}
	}
	return false
}
