package models

import "github.com/google/uuid"

// TurnState is carried immutably through the Agent Executor's recursive
// turn loop. next_turn is the only producer of a new TurnState; the prior
// value is never mutated.
type TurnState struct {
	TurnCounter  int            `json:"turn_counter"`
	TurnID       string         `json:"turn_id"`
	ParentTurnID string         `json:"parent_turn_id,omitempty"`
	MaxDepth     int            `json:"max_depth"`
	Compacted    bool           `json:"compacted"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewTurnState constructs the starting state for a run: turn_counter=0,
// parent_turn_id empty.
func NewTurnState(maxDepth int) TurnState {
	return TurnState{
		TurnCounter: 0,
		TurnID:      uuid.NewString(),
		MaxDepth:    maxDepth,
	}
}

// NextTurn returns a new TurnState with turn_counter+1, a fresh turn_id,
// parent_turn_id set to the current turn_id, and max_depth/metadata
// preserved. s itself is unchanged.
func (s TurnState) NextTurn(compacted bool) TurnState {
	return TurnState{
		TurnCounter:  s.TurnCounter + 1,
		TurnID:       uuid.NewString(),
		ParentTurnID: s.TurnID,
		MaxDepth:     s.MaxDepth,
		Compacted:    compacted,
		Metadata:     s.Metadata,
	}
}

// DepthReached reports whether the state has exhausted its turn budget.
func (s TurnState) DepthReached() bool {
	return s.TurnCounter >= s.MaxDepth
}
