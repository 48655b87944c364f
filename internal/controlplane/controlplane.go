package controlplane

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Responder publishes a Response to the response exchange with routing key
// "control.response.<command>". Implemented by the AMQP transport; kept as
// a narrow interface so ControlPlane and its tests never depend on a real
// broker connection.
type Responder interface {
	PublishResponse(routingKey string, body []byte) error
}

// ControlPlane consumes command messages and mutates SharedState,
// publishing a structured JSON response for every message it handles --
// malformed ones included, per spec.md §4.5.
type ControlPlane struct {
	state      *SharedState
	stats      StatisticsProvider
	responder  Responder
	log        zerolog.Logger
}

// New constructs a ControlPlane over state, reporting through stats and
// replying via responder.
func New(state *SharedState, stats StatisticsProvider, responder Responder, log zerolog.Logger) *ControlPlane {
	return &ControlPlane{
		state:     state,
		stats:     stats,
		responder: responder,
		log:       log.With().Str("component", "control_plane").Logger(),
	}
}

// HandleMessage processes one raw command message body. It never returns
// an error to the caller -- every failure mode (bad JSON, unknown command,
// validation failure, internal error) is converted into a Response and
// published, matching spec.md's "every error kind gets a typed reply"
// design rule.
func (cp *ControlPlane) HandleMessage(body []byte) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		cp.reply(errResponse("", "", ErrInvalidJSON, "malformed JSON command"))
		return
	}

	corrID := req.CorrelationID
	if corrID == "" {
		corrID = uuid.NewString()
	}

	switch req.Command {
	case CmdAddSymbol:
		cp.handleAddSymbol(corrID, req)
	case CmdRemoveSymbol:
		cp.handleRemoveSymbol(corrID, req)
	case CmdSetSymbols:
		cp.handleSetSymbols(corrID, req)
	case CmdGetSymbols:
		cp.handleGetSymbols(corrID)
	case CmdGetStatistics:
		cp.handleGetStatistics(corrID)
	case "":
		cp.reply(errResponse(corrID, req.Command, ErrInvalidCommand, "command field is required"))
	default:
		cp.reply(errResponse(corrID, req.Command, ErrUnknownCommand, fmt.Sprintf("unrecognized command %q", req.Command)))
	}
}

func (cp *ControlPlane) handleAddSymbol(corrID string, req Request) {
	if req.Symbol == "" {
		cp.reply(errResponse(corrID, CmdAddSymbol, ErrInvalidCommand, "symbol field is required"))
		return
	}
	sym := domain.Symbol(req.Symbol)
	if !cp.state.Add(sym) {
		cp.reply(errResponse(corrID, CmdAddSymbol, ErrDuplicateSymbol, fmt.Sprintf("symbol %q already present", req.Symbol)))
		return
	}
	cp.reply(okResponse(corrID, CmdAddSymbol, "symbol added", map[string]interface{}{
		"symbol":           req.Symbol,
		"current_symbols":  cp.state.Symbols(),
	}))
}

func (cp *ControlPlane) handleRemoveSymbol(corrID string, req Request) {
	if req.Symbol == "" {
		cp.reply(errResponse(corrID, CmdRemoveSymbol, ErrInvalidCommand, "symbol field is required"))
		return
	}
	sym := domain.Symbol(req.Symbol)
	if !cp.state.Remove(sym) {
		cp.reply(errResponse(corrID, CmdRemoveSymbol, ErrSymbolNotFound, fmt.Sprintf("symbol %q not found", req.Symbol)))
		return
	}
	cp.reply(okResponse(corrID, CmdRemoveSymbol, "symbol removed", map[string]interface{}{
		"symbol":          req.Symbol,
		"current_symbols": cp.state.Symbols(),
	}))
}

func (cp *ControlPlane) handleSetSymbols(corrID string, req Request) {
	var raw []string
	if len(req.Symbols) == 0 || json.Unmarshal(req.Symbols, &raw) != nil {
		cp.reply(errResponse(corrID, CmdSetSymbols, ErrInvalidCommand, "symbols field must be a list of strings"))
		return
	}
	symbols := make([]domain.Symbol, len(raw))
	for i, s := range raw {
		symbols[i] = domain.Symbol(s)
	}
	cp.state.Set(symbols)
	cp.reply(okResponse(corrID, CmdSetSymbols, "symbol set replaced", map[string]interface{}{
		"symbols": cp.state.Symbols(),
		"count":   cp.state.Count(),
	}))
}

func (cp *ControlPlane) handleGetSymbols(corrID string) {
	symbols := cp.state.Symbols()
	cp.reply(okResponse(corrID, CmdGetSymbols, "", map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	}))
}

func (cp *ControlPlane) handleGetStatistics(corrID string) {
	if cp.stats == nil {
		cp.reply(errResponse(corrID, CmdGetStatistics, ErrInternal, "statistics provider not configured"))
		return
	}
	cp.reply(okResponse(corrID, CmdGetStatistics, "", cp.stats.Statistics()))
}

// reply marshals and publishes resp. A response that cannot be marshaled
// (should never happen given the schema above) is logged and dropped --
// there is no narrower error channel to report it on.
func (cp *ControlPlane) reply(resp Response) {
	resp.Timestamp = time.Now().Unix()
	body, err := json.Marshal(resp)
	if err != nil {
		cp.log.Error().Err(err).Msg("failed to marshal control response")
		return
	}
	routingKey := fmt.Sprintf("control.response.%s", resp.Command)
	if err := cp.responder.PublishResponse(routingKey, body); err != nil {
		cp.log.Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish control response")
	}
}
