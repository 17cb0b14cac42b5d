package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// HistoryFilter holds filtering criteria for reading a session's decisions
// back out of the log.
type HistoryFilter struct {
	SessionID string
	From      time.Time // zero value = no lower bound
	To        time.Time // zero value = no upper bound
}

// HistorySummary holds verdict counts and metadata for one session's logged
// decisions.
type HistorySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	ReviewCount    int    `json:"review_count"`
	BlockCount     int    `json:"block_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
	MaxRisk        float64 `json:"max_risk"`
}

// HistoryResult holds filtered entries and summary for one session.
type HistoryResult struct {
	SessionID string         `json:"session_id"`
	Entries   []Entry        `json:"entries"`
	Summary   HistorySummary `json:"summary"`
}

// History reads the decision log and returns entries matching the filter.
func History(path string, filter HistoryFilter) (*HistoryResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	result := &HistoryResult{SessionID: filter.SessionID}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}

		if entry.SessionID != filter.SessionID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read decision log: %w", err)
	}

	return result, nil
}

func updateSummary(s *HistorySummary, entry Entry) {
	s.Total++

	switch entry.Verdict {
	case "allow":
		s.AllowCount++
	case "review":
		s.ReviewCount++
	case "block":
		s.BlockCount++
	}

	if entry.Risk > s.MaxRisk {
		s.MaxRisk = entry.Risk
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
