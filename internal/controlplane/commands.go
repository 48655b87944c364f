package controlplane

import (
	"encoding/json"

	"github.com/cryptofeed/collector/internal/domain"
)

// Command names -- the closed set from spec.md §4.5/§6.
const (
	CmdAddSymbol     = "add_symbol"
	CmdRemoveSymbol  = "remove_symbol"
	CmdSetSymbols    = "set_symbols"
	CmdGetSymbols    = "get_symbols"
	CmdGetStatistics = "get_statistics"
)

// Error codes -- the closed set from spec.md §6.
const (
	ErrInvalidJSON     = "invalid_json"
	ErrInvalidCommand  = "invalid_command"
	ErrDuplicateSymbol = "duplicate_symbol"
	ErrSymbolNotFound  = "symbol_not_found"
	ErrUnknownCommand  = "unknown_command"
	ErrInternal        = "internal_error"
)

// Request is the incoming control message shape. Fields not used by a
// given command are simply absent/zero.
type Request struct {
	CorrelationID string          `json:"correlation_id"`
	Command       string          `json:"command"`
	Symbol        string          `json:"symbol,omitempty"`
	Symbols       json.RawMessage `json:"symbols,omitempty"`
}

// Response mirrors the reply schema in spec.md §4.5/§6.
type Response struct {
	CorrelationID string      `json:"correlation_id"`
	Success       bool        `json:"success"`
	Command       string      `json:"command"`
	Message       string      `json:"message,omitempty"`
	Error         *string     `json:"error"`
	Data          interface{} `json:"data,omitempty"`
	Timestamp     int64       `json:"timestamp"`
}

func errResponse(corrID, command, code, message string) Response {
	c := code
	return Response{
		CorrelationID: corrID,
		Success:       false,
		Command:       command,
		Message:       message,
		Error:         &c,
	}
}

func okResponse(corrID, command, message string, data interface{}) Response {
	return Response{
		CorrelationID: corrID,
		Success:       true,
		Command:       command,
		Message:       message,
		Error:         nil,
		Data:          data,
	}
}

// StatisticsSnapshot is the payload returned by get_statistics and the
// periodic statistics publish (SPEC_FULL §12.1).
type StatisticsSnapshot struct {
	ExchangeSuccess map[domain.ExchangeId]int64            `json:"exchange_success"`
	ExchangeErrors  map[domain.ExchangeId]int64            `json:"exchange_errors"`
	RabbitMQPublished int64                                `json:"rabbitmq_published"`
	RabbitMQFailed    int64                                `json:"rabbitmq_failed"`
	CircuitBreakers map[domain.ExchangeId]CircuitBreakerInfo `json:"circuit_breakers"`
	Health          map[domain.ExchangeId]HealthInfo         `json:"health"`
}

// CircuitBreakerInfo is the wrapper-level breaker status exposed in
// statistics, per spec.md §6.
type CircuitBreakerInfo struct {
	State   string `json:"state"`
	Failures int   `json:"failures"`
	Opens    int   `json:"opens"`
	Closes   int   `json:"closes"`
}

// HealthInfo is the wrapper-level health status exposed in statistics, per
// spec.md §6.
type HealthInfo struct {
	Status              string  `json:"status"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	UptimePct           float64 `json:"uptime_pct"`
}

// StatisticsProvider is implemented by whatever owns the live counters
// (the Orchestrator); ControlPlane depends only on this narrow interface
// so it never needs a back-reference to the rest of the system.
type StatisticsProvider interface {
	Statistics() StatisticsSnapshot
}
