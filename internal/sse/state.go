// Package sse implements the Anthropic Messages streaming state machine:
// block lifecycle tracking, the length/4 token heuristic, stop-reason
// resolution, and the event emitter that drives all three from decoded
// upstream events. It generalizes the per-stream bookkeeping the upstream
// client keeps inline into a standalone, reusable State.
package sse

import (
	"github.com/google/uuid"
)

// textBlockIndex is reserved for the text content block; tool-use blocks
// are assigned starting at 1. Two code paths in the upstream disagreed on
// this; this package applies the rule uniformly everywhere.
const textBlockIndex = 0

type blockState struct {
	started bool
	stopped bool
}

// State is the per-stream bookkeeping for one client request. It is owned
// by exactly one request goroutine and must never be shared.
type State struct {
	MessageID    string
	Model        string
	InputTokens  int
	OutputTokens int

	textBlockOpen       bool
	activeBlocks        map[int]*blockState
	toolUseIDByBlock    map[int]string
	completedToolUseIDs map[string]bool
	toolInputBuffers    map[string]*toolInputBuffer

	nextToolBlockIndex int
	anyContentOpened   bool

	forcedFinishReason string
	sawException       bool
	sawActiveTools     bool
	sawCompletedTools  bool

	// Thinking block bookkeeping (content-block extension beyond the base
	// six upstream event kinds — reasoning deltas arrive through
	// Emitter.Feed as upstreamevent.KindThinkingDelta).
	// -1 means no thinking block has been allocated yet.
	thinkingBlockIndex int
}

type toolInputBuffer struct {
	name    string
	builder []byte
}

// NewState creates per-stream state for one request. Per §5, lifecycle is
// explicit: call NewState at request start and simply drop the value when
// the stream ends — there is nothing to release beyond GC.
func NewState(model string, inputTokens int) *State {
	return &State{
		MessageID:           "msg_" + uuid.NewString(),
		Model:               model,
		InputTokens:         inputTokens,
		activeBlocks:        make(map[int]*blockState),
		toolUseIDByBlock:    make(map[int]string),
		completedToolUseIDs: make(map[string]bool),
		toolInputBuffers:    make(map[string]*toolInputBuffer),
		nextToolBlockIndex:  1,
		thinkingBlockIndex:  -1,
	}
}

// blockIndexForToolUse returns the block index currently assigned to
// toolUseID and true, or (0, false) if none is assigned. It does not
// allocate; callers use allocateToolBlock for that.
func (s *State) blockIndexForToolUse(id string) (int, bool) {
	for idx, tid := range s.toolUseIDByBlock {
		if tid == id {
			return idx, true
		}
	}
	return 0, false
}

func (s *State) allocateToolBlock(id string) int {
	idx := s.nextToolBlockIndex
	s.nextToolBlockIndex++
	s.toolUseIDByBlock[idx] = id
	return idx
}

func (s *State) isOpen(idx int) bool {
	b, ok := s.activeBlocks[idx]
	return ok && b.started && !b.stopped
}

func (s *State) markStarted(idx int) {
	s.activeBlocks[idx] = &blockState{started: true}
}

func (s *State) markStopped(idx int) {
	if b, ok := s.activeBlocks[idx]; ok {
		b.stopped = true
	}
}

func (s *State) openBlockIndexesAscending() []int {
	var out []int
	for idx, b := range s.activeBlocks {
		if b.started && !b.stopped {
			out = append(out, idx)
		}
	}
	// Simple ascending insertion sort; counts stay tiny (tool count + 1).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// RecordException marks a forced finish reason from an upstream exception.
// Exception wins over any tool-use outcome per the resolved open question
// in §9 of the design notes.
func (s *State) RecordException(exceptionType string) {
	s.sawException = true
	s.forcedFinishReason = exceptionType
}

