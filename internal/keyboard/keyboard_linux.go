//go:build linux

package keyboard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/micmonay/keybd_event"

	"github.com/saltchicken/watch-controller/internal/dispatch"
)

// Open creates a uinput keyboard able to press the given actions.
// It blocks for the settle delay before returning.
func Open(actions []dispatch.ActionToken, opts ...Option) (*Device, error) {
	o := options{settleDelay: DefaultSettleDelay, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := resolveCodes(actions); err != nil {
		return nil, err
	}

	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("failed to create uinput device: %w", err)
	}

	if o.settleDelay > 0 {
		time.Sleep(o.settleDelay)
	}

	device, err := newDevice(&kb, actions, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Virtual keyboard ready",
		slog.Int("actions", len(actions)),
		slog.Duration("settle_delay", o.settleDelay),
	)
	return device, nil
}
