package tool

import (
	"context"
	"sync"
)

// MockTool is a scriptable Tool test double: a configured sequence of
// responses (repeating the last once exhausted) or a configured error,
// with full call-history tracking. Adapted from the teacher's
// graph/tool.MockTool.
type MockTool struct {
	ToolName  string
	Responses []map[string]interface{}
	Err       error

	mu        sync.Mutex
	calls     []map[string]interface{}
	callIndex int
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns a copy of the recorded call inputs.
func (m *MockTool) Calls() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}
