package audit

// Entry is one line in the hash-chained JSONL decision log.
// All fields are scalars or structs (no map[string]any) to guarantee
// deterministic json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	SessionID  string `json:"session_id"`
	TurnID     int64  `json:"turn_id"`
	Role       string `json:"role"`
	Verdict    string `json:"verdict"`
	ReasonCode string `json:"reason_code"`
	Risk       float64 `json:"risk_accumulator"`
	Status     string `json:"session_status"`
	PolicyHash string `json:"policy_hash"`
	PrevHash   string `json:"prev_hash"`
}
