package keyboard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saltchicken/watch-controller/internal/dispatch"
)

var (
	// ErrUnsupported is returned by Open on platforms without a virtual keyboard backend
	ErrUnsupported = errors.New("virtual keyboard not supported on this platform")
	// ErrUnmappedAction is returned when an action has no key code
	ErrUnmappedAction = errors.New("action has no key code")
	// ErrClosed is returned by Press after Close
	ErrClosed = errors.New("keyboard device closed")
)

// Linux input event codes (linux/input-event-codes.h)
const (
	keyEnter        = 28
	keyH            = 35
	keyJ            = 36
	keyK            = 37
	keyL            = 38
	keyVolumeDown   = 114
	keyVolumeUp     = 115
	keyNextSong     = 163
	keyPlayPause    = 164
	keyPreviousSong = 165
)

var keyCodes = map[dispatch.ActionToken]int{
	dispatch.ActionPreviousTrack: keyPreviousSong,
	dispatch.ActionNextTrack:     keyNextSong,
	dispatch.ActionVolumeUp:      keyVolumeUp,
	dispatch.ActionVolumeDown:    keyVolumeDown,
	dispatch.ActionPlayPause:     keyPlayPause,
	dispatch.ActionMoveLeft:      keyH,
	dispatch.ActionMoveDown:      keyJ,
	dispatch.ActionMoveUp:        keyK,
	dispatch.ActionMoveRight:     keyL,
	dispatch.ActionEnter:         keyEnter,
}

// KeyCode returns the input event code for an action
func KeyCode(action dispatch.ActionToken) (int, bool) {
	code, ok := keyCodes[action]
	return code, ok
}

// DefaultSettleDelay is how long a fresh uinput device needs before the
// desktop picks up its events
const DefaultSettleDelay = 2 * time.Second

type options struct {
	settleDelay time.Duration
	logger      *slog.Logger
}

// Option configures Open
type Option func(*options)

// WithSettleDelay overrides the wait after creating the device
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		o.settleDelay = d
	}
}

// WithLogger sets the logger used by the device
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// launcher is the subset of keybd_event.KeyBonding used by Device
type launcher interface {
	SetKeys(keys ...int)
	Launching() error
}

// Device is a virtual keyboard restricted to a fixed set of actions.
// Press is serialized; the device is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	kb     launcher
	codes  map[dispatch.ActionToken]int
	logger *slog.Logger
	closed bool
}

func newDevice(kb launcher, actions []dispatch.ActionToken, logger *slog.Logger) (*Device, error) {
	codes, err := resolveCodes(actions)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		kb:     kb,
		codes:  codes,
		logger: logger,
	}, nil
}

func resolveCodes(actions []dispatch.ActionToken) (map[dispatch.ActionToken]int, error) {
	codes := make(map[dispatch.ActionToken]int, len(actions))
	for _, action := range actions {
		code, ok := KeyCode(action)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnmappedAction, action)
		}
		codes[action] = code
	}
	return codes, nil
}

// Press sends a press and release of the key mapped to action
func (d *Device) Press(action dispatch.ActionToken) error {
	code, ok := d.codes[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnmappedAction, action)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.kb.SetKeys(code)
	if err := d.kb.Launching(); err != nil {
		return fmt.Errorf("failed to press %s: %w", action, err)
	}

	d.logger.Debug("Key pressed",
		slog.String("action", string(action)),
		slog.Int("code", code),
	)
	return nil
}

// Close stops accepting presses
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("Virtual keyboard closed", slog.Int("actions", len(d.codes)))
	return nil
}

// LogDevice records presses in the log without touching any input device
type LogDevice struct {
	logger *slog.Logger
}

// NewLogDevice creates a log-only presser
func NewLogDevice(logger *slog.Logger) *LogDevice {
	return &LogDevice{logger: logger}
}

// Press logs the action
func (l *LogDevice) Press(action dispatch.ActionToken) error {
	l.logger.Info("Key press (dry run)", slog.String("action", string(action)))
	return nil
}
