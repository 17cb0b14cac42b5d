package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/turnguard/turnguard/internal/identity"
	"github.com/turnguard/turnguard/internal/model"
)

// --- Input/Output types ---

// TurnInput defines parameters for turnguard_submit_turn and turnguard_check.
type TurnInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
	TurnID    int64  `json:"turn_id" jsonschema:"monotonic turn id within the session"`
	Role      string `json:"role" jsonschema:"turn role (user/assistant/system)"`
	Content   string `json:"content,omitempty" jsonschema:"turn text content"`
}

// TurnOutput contains the rendered decision or rejection details.
type TurnOutput struct {
	SessionID  string `json:"session_id"`
	TurnID     int64  `json:"turn_id"`
	Verdict    string `json:"verdict,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
	Rejected   bool   `json:"rejected,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SessionInput defines parameters for turnguard_get_session.
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
}

// SessionOutput is the read-only session snapshot.
type SessionOutput struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Risk      float64            `json:"risk_accumulator"`
	Turns     int                `json:"turn_count"`
	Decisions []DecisionItem     `json:"decisions"`
}

// DecisionItem is one entry in the session's decision history.
type DecisionItem struct {
	TurnID     int64  `json:"turn_id"`
	Verdict    string `json:"verdict"`
	ReasonCode string `json:"reason_code"`
}

// --- Handlers ---

func (s *Server) handleSubmitTurn(ctx context.Context, req *mcpsdk.CallToolRequest, input TurnInput) (*mcpsdk.CallToolResult, TurnOutput, error) {
	turn := toTurn(input)

	dec, err := s.pipeline.Evaluate(ctx, turn)
	if err != nil {
		return rejection(turn, err)
	}

	return nil, TurnOutput{
		SessionID:  turn.SessionID,
		TurnID:     turn.TurnID,
		Verdict:    string(dec.Verdict),
		ReasonCode: dec.ReasonCode,
	}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input TurnInput) (*mcpsdk.CallToolResult, TurnOutput, error) {
	turn := toTurn(input)

	dec, err := s.pipeline.Check(ctx, turn)
	if err != nil {
		return rejection(turn, err)
	}

	return nil, TurnOutput{
		SessionID:  turn.SessionID,
		TurnID:     turn.TurnID,
		Verdict:    string(dec.Verdict),
		ReasonCode: dec.ReasonCode,
	}, nil
}

func (s *Server) handleGetSession(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionInput) (*mcpsdk.CallToolResult, SessionOutput, error) {
	sessionID := identity.NormalizeSessionID(input.SessionID)

	st, err := s.pipeline.Session(sessionID)
	if err != nil {
		return nil, SessionOutput{}, err
	}

	out := SessionOutput{
		SessionID: st.SessionID,
		Status:    string(st.Status),
		Risk:      st.Risk,
		Turns:     len(st.Turns),
		Decisions: make([]DecisionItem, len(st.Decisions)),
	}
	for i, d := range st.Decisions {
		out.Decisions[i] = DecisionItem{
			TurnID:     d.TurnID,
			Verdict:    string(d.Verdict),
			ReasonCode: d.ReasonCode,
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func toTurn(input TurnInput) model.Turn {
	return model.Turn{
		SessionID: identity.NormalizeSessionID(input.SessionID),
		TurnID:    input.TurnID,
		Role:      model.Role(input.Role),
		Content:   input.Content,
	}
}

// rejection maps validation errors to tool output instead of a transport
// error, so the calling agent sees a structured refusal it can correct.
func rejection(turn model.Turn, err error) (*mcpsdk.CallToolResult, TurnOutput, error) {
	if errors.Is(err, model.ErrOutOfOrderTurn) || errors.Is(err, model.ErrMalformedTurn) {
		return &mcpsdk.CallToolResult{IsError: true}, TurnOutput{
			SessionID: turn.SessionID,
			TurnID:    turn.TurnID,
			Rejected:  true,
			Error:     err.Error(),
		}, nil
	}
	return nil, TurnOutput{}, err
}
