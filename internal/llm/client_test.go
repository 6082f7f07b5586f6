package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
)

// stubProvider is a minimal Provider whose wire format is a flat JSON
// object: {"content":"...","tool_calls":[{"id":..,"name":..,"arguments":{...}}]}.
type stubProvider struct{}

func (stubProvider) Name() string                                 { return "stub" }
func (stubProvider) BuildURL(baseURL string) string                { return baseURL }
func (stubProvider) SetHeaders(req *http.Request, apiKey string)   {}
func (stubProvider) BuildRequestBody(model string, messages []Message, tools []ToolDefinition, maxTokens int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{"turns": len(messages)})
}

type stubToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type stubResponse struct {
	Content   string         `json:"content"`
	ToolCalls []stubToolCall `json:"tool_calls"`
}

func (stubProvider) ParseResponse(body []byte) (*Response, error) {
	var raw stubResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	calls := make([]ToolCall, len(raw.ToolCalls))
	for i, c := range raw.ToolCalls {
		calls[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return &Response{Content: raw.Content, ToolCalls: calls}, nil
}

// newStubServer replays responses in order, repeating the last entry
// once exhausted. It returns the server and a counter of calls made.
func newStubServer(t *testing.T, status []int, bodies []string) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		idx := n
		if idx >= len(bodies) {
			idx = len(bodies) - 1
		}
		w.WriteHeader(status[idx])
		w.Write([]byte(bodies[idx]))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestComplete_RetriesTransientThenSucceeds(t *testing.T) {
	srv, calls := newStubServer(t,
		[]int{http.StatusInternalServerError, http.StatusOK},
		[]string{`{}`, `{"content":"ok"}`},
	)
	c := NewClient(stubProvider{}, srv.URL, "", "test-model")
	c.retry.BackoffBase = time.Millisecond

	resp, err := c.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestComplete_FatalStatusNeverRetries(t *testing.T) {
	srv, calls := newStubServer(t, []int{http.StatusBadRequest}, []string{`{"error":"bad"}`})
	c := NewClient(stubProvider{}, srv.URL, "", "test-model")
	c.retry.BackoffBase = time.Millisecond

	_, err := c.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.ModelUnreachable, errs.KindOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestComplete_ExhaustsRetriesOnRepeatedTransientFailure(t *testing.T) {
	srv, calls := newStubServer(t,
		[]int{http.StatusTooManyRequests, http.StatusTooManyRequests},
		[]string{`{}`, `{}`},
	)
	c := NewClient(stubProvider{}, srv.URL, "", "test-model")
	c.retry.MaxAttempts = 2
	c.retry.BackoffBase = time.Millisecond

	_, err := c.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.ModelUnreachable, errs.KindOf(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestComplete_NeverExtendsCallerDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"late"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(stubProvider{}, srv.URL, "", "test-model")
	c.retry.MaxAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.ModelUnreachable, errs.KindOf(err))
}
