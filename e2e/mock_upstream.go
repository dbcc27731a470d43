package e2e

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// MockUpstream is a fake OpenAI-compatible chat completions server
type MockUpstream struct {
	mu sync.Mutex

	// Response configuration
	content string
	model   string
	noReply bool
	delay   time.Duration

	// Error simulation
	errorCode int

	calls   int
	prompts []string
}

// NewMockUpstream creates a mock upstream with a default reply
func NewMockUpstream() *MockUpstream {
	return &MockUpstream{
		content: "The stars favour patience today.",
		model:   "mock-model",
	}
}

// SetContent sets the reply content
func (m *MockUpstream) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
}

// SetDelay delays every reply
func (m *MockUpstream) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetError makes every request fail with code; zero restores success
func (m *MockUpstream) SetError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCode = code
}

// SetEmptyReply makes replies carry no choices
func (m *MockUpstream) SetEmptyReply(empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noReply = empty
}

// Calls returns the number of requests received
func (m *MockUpstream) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the user prompts received, in order
func (m *MockUpstream) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// ServeHTTP implements http.Handler
func (m *MockUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls++
	for _, msg := range req.Messages {
		if msg.Role == openai.ChatMessageRoleUser {
			m.prompts = append(m.prompts, msg.Content)
		}
	}
	content, model, noReply, delay, errorCode := m.content, m.model, m.noReply, m.delay, m.errorCode
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if errorCode != 0 {
		w.WriteHeader(errorCode)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "mock upstream failure", "type": "server_error"},
		})
		return
	}

	resp := openai.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Usage:   openai.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
	}
	if !noReply {
		resp.Choices = []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
