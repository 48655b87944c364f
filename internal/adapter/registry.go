package adapter

import (
	"fmt"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

// Factory builds one vendor's ExchangeAdapter from its config. Registered
// once per vendor at config-time; there is no runtime reflection-based
// class lookup.
type Factory func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter

// Registry maps an ExchangeId to the Factory that builds its adapter.
var Registry = map[domain.ExchangeId]Factory{
	"binance": func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter {
		return NewBinance(timeoutOf(cfg), cfg.Sandbox, log)
	},
	"bybit": func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter {
		return NewBybit(timeoutOf(cfg), cfg.Sandbox, log)
	},
	"bitget": func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter {
		return NewBitget(timeoutOf(cfg), cfg.Sandbox, log)
	},
	"htx": func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter {
		return NewHTX(timeoutOf(cfg), cfg.Sandbox, log)
	},
	"gateio": func(cfg domain.ExchangeConfig, log zerolog.Logger) domain.ExchangeAdapter {
		return NewGateIO(timeoutOf(cfg), cfg.Sandbox, log)
	},
}

func timeoutOf(cfg domain.ExchangeConfig) time.Duration {
	if cfg.TimeoutS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.TimeoutS * float64(time.Second))
}

// rateLimitable is implemented by every vendor adapter through its
// embedded httpBase; Build uses it to apply the configured per-exchange
// rate limit without widening the public ExchangeAdapter interface.
type rateLimitable interface {
	setRateLimit(perSecond float64)
}

// Build constructs the adapter registered for cfg.Name and applies its
// configured rate limit.
func Build(cfg domain.ExchangeConfig, log zerolog.Logger) (domain.ExchangeAdapter, error) {
	factory, ok := Registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("adapter: no factory registered for exchange %q", cfg.Name)
	}
	a := factory(cfg, log)
	if rl, ok := a.(rateLimitable); ok {
		rl.setRateLimit(cfg.RateLimit)
	}
	return a, nil
}
