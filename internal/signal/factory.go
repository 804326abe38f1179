package signal

import (
	"fmt"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/store"
	"scheduled-trader/internal/types"
)

// New builds the evaluator selected by cfg.Signal.Provider.
func New(cfg *store.Config) (interfaces.Evaluator, error) {
	switch cfg.Signal.Provider {
	case "", "noop":
		return Hold{}, nil
	case "static":
		return NewStatic(cfg.Signal.Targets), nil
	case "file":
		return NewFile(cfg.Signal.Path), nil
	case "http":
		return NewHTTP(cfg.Signal.Endpoint, cfg.Credentials.SignalToken, cfg.Signal.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown signal provider %q", types.ErrConfiguration, cfg.Signal.Provider)
	}
}
