package dispatch

import (
	"log/slog"
	"sort"

	"github.com/saltchicken/watch-controller/internal/metrics"
)

// Presser injects a single key press for an action. Implementations must be
// safe for concurrent use; connections and pipeline workers share one Presser.
type Presser interface {
	Press(action ActionToken) error
}

// Dispatcher resolves frames and transcripts to actions and presses them synchronously
type Dispatcher struct {
	table    *Table
	triggers *Triggers
	presser  Presser
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher. A nil triggers disables transcript dispatch.
func NewDispatcher(table *Table, triggers *Triggers, presser Presser, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if triggers == nil {
		triggers = &Triggers{}
	}
	return &Dispatcher{
		table:    table,
		triggers: triggers,
		presser:  presser,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch resolves a command frame and presses the mapped key.
// Unrecognized text is logged at debug level and is never an error.
func (d *Dispatcher) Dispatch(text string) (ActionToken, bool) {
	action, ok := d.table.Resolve(text)
	if !ok {
		d.metrics.RecordCommandMiss()
		d.logger.Debug("Unrecognized command", slog.String("text", text))
		return "", false
	}

	d.press(action, "command")
	return action, true
}

// DispatchTranscript presses the actions triggered by a transcript and returns how many fired
func (d *Dispatcher) DispatchTranscript(text string) int {
	actions := d.triggers.Match(text)
	for _, action := range actions {
		d.logger.Info("Transcript triggered action",
			slog.String("action", string(action)),
			slog.String("text", text),
		)
		d.press(action, "transcript")
	}
	return len(actions)
}

// Actions returns every action this dispatcher may press, sorted
func (d *Dispatcher) Actions() []ActionToken {
	seen := make(map[ActionToken]bool)
	var actions []ActionToken
	for _, action := range append(d.table.Actions(), d.triggers.Actions()...) {
		if !seen[action] {
			seen[action] = true
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// press invokes the key device; failures are logged and counted, never propagated
func (d *Dispatcher) press(action ActionToken, source string) {
	if err := d.presser.Press(action); err != nil {
		d.metrics.RecordKeyPressFailure(string(action))
		d.logger.Error("Key press failed",
			slog.String("action", string(action)),
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return
	}

	d.metrics.RecordAction(string(action), source)
	d.logger.Debug("Key pressed",
		slog.String("action", string(action)),
		slog.String("source", source),
	)
}
