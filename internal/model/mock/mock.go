// Package mock provides a scriptable ChatModel test double, adapted from
// the teacher's graph/model.MockChatModel.
package mock

import (
	"context"
	"sync"

	"github.com/zerobranding/orchestrator/internal/model"
)

// ChatModel returns a configured sequence of responses (repeating the last
// one once exhausted) or a configured error, and records every call.
type ChatModel struct {
	Responses []model.ChatOut
	Err       error

	mu        sync.Mutex
	calls     []Call
	callIndex int
}

// Call records one invocation.
type Call struct {
	Messages []model.Message
	Tools    []model.ToolSpec
}

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Messages: messages, Tools: tools})

	if m.Err != nil {
		return model.ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return model.ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns a copy of the recorded call history.
func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Chat has been invoked.
func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears call history and response index.
func (m *ChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}
