package controlplane

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	mu        sync.Mutex
	responses []Response
	keys      []string
}

func (f *fakeResponder) PublishResponse(routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		panic(err)
	}
	f.responses = append(f.responses, resp)
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakeResponder) last() Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		panic("fakeResponder: no response published yet")
	}
	return f.responses[len(f.responses)-1]
}

type fakeStatsProvider struct {
	snap StatisticsSnapshot
}

func (f fakeStatsProvider) Statistics() StatisticsSnapshot { return f.snap }

func newTestControlPlane() (*ControlPlane, *fakeResponder, *SharedState) {
	state := NewSharedState()
	responder := &fakeResponder{}
	stats := fakeStatsProvider{snap: StatisticsSnapshot{
		ExchangeSuccess: map[domain.ExchangeId]int64{"binance": 10},
	}}
	cp := New(state, stats, responder, zerolog.Nop())
	return cp, responder, state
}

func TestControlPlane_MalformedJSONRepliesInvalidJSON(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte("{not json"))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInvalidJSON, *resp.Error)
}

func TestControlPlane_MissingCommandFieldRepliesInvalidCommand(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"correlation_id":"abc"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	assert.Equal(t, "abc", resp.CorrelationID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInvalidCommand, *resp.Error)
}

func TestControlPlane_UnknownCommandReplies(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"nonexistent"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrUnknownCommand, *resp.Error)
}

func TestControlPlane_GeneratesCorrelationIDWhenOmitted(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"get_symbols"}`))

	resp := responder.last()
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestControlPlane_AddSymbolSuccess(t *testing.T) {
	cp, responder, state := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"add_symbol","symbol":"BTC/USDT:USDT"}`))

	resp := responder.last()
	assert.True(t, resp.Success)
	assert.Equal(t, []domain.Symbol{"BTC/USDT:USDT"}, state.Symbols())
}

func TestControlPlane_AddSymbolDuplicateFails(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"add_symbol","symbol":"BTC/USDT:USDT"}`))
	cp.HandleMessage([]byte(`{"command":"add_symbol","symbol":"BTC/USDT:USDT"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrDuplicateSymbol, *resp.Error)
}

func TestControlPlane_AddSymbolMissingFieldFails(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"add_symbol"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInvalidCommand, *resp.Error)
}

func TestControlPlane_RemoveSymbolNotFoundFails(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"remove_symbol","symbol":"BTC/USDT:USDT"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrSymbolNotFound, *resp.Error)
}

func TestControlPlane_RemoveSymbolSuccess(t *testing.T) {
	cp, responder, state := newTestControlPlane()
	state.Add("ETH/USDT:USDT")
	cp.HandleMessage([]byte(`{"command":"remove_symbol","symbol":"ETH/USDT:USDT"}`))

	resp := responder.last()
	assert.True(t, resp.Success)
	assert.Empty(t, state.Symbols())
}

func TestControlPlane_SetSymbolsReplacesWholeSet(t *testing.T) {
	cp, responder, state := newTestControlPlane()
	state.Add("SOL/USDT:USDT")
	cp.HandleMessage([]byte(`{"command":"set_symbols","symbols":["BTC/USDT:USDT","ETH/USDT:USDT"]}`))

	resp := responder.last()
	assert.True(t, resp.Success)
	assert.Equal(t, []domain.Symbol{"BTC/USDT:USDT", "ETH/USDT:USDT"}, state.Symbols())
}

func TestControlPlane_SetSymbolsRejectsNonListPayload(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"set_symbols","symbols":"not-a-list"}`))

	resp := responder.last()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInvalidCommand, *resp.Error)
}

func TestControlPlane_GetSymbolsReturnsCurrentSet(t *testing.T) {
	cp, responder, state := newTestControlPlane()
	state.Add("BTC/USDT:USDT")
	cp.HandleMessage([]byte(`{"command":"get_symbols"}`))

	resp := responder.last()
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["count"])
}

func TestControlPlane_GetStatisticsReturnsProviderSnapshot(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"get_statistics"}`))

	resp := responder.last()
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
}

func TestControlPlane_ResponseRoutingKeyIncludesCommand(t *testing.T) {
	cp, responder, _ := newTestControlPlane()
	cp.HandleMessage([]byte(`{"command":"get_symbols"}`))

	responder.mu.Lock()
	defer responder.mu.Unlock()
	require.NotEmpty(t, responder.keys)
	assert.Equal(t, "control.response.get_symbols", responder.keys[len(responder.keys)-1])
}
