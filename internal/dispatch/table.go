package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownAction is returned when configuration names an action that does not exist
var ErrUnknownAction = errors.New("unknown action")

// ActionToken identifies a single device-independent key-press action
type ActionToken string

// Recognized actions
const (
	ActionPreviousTrack ActionToken = "previous-track"
	ActionNextTrack     ActionToken = "next-track"
	ActionVolumeUp      ActionToken = "volume-up"
	ActionVolumeDown    ActionToken = "volume-down"
	ActionPlayPause     ActionToken = "play-pause"
	ActionMoveLeft      ActionToken = "move-left"
	ActionMoveDown      ActionToken = "move-down"
	ActionMoveUp        ActionToken = "move-up"
	ActionMoveRight     ActionToken = "move-right"
	ActionEnter         ActionToken = "enter"
)

var knownActions = map[ActionToken]bool{
	ActionPreviousTrack: true,
	ActionNextTrack:     true,
	ActionVolumeUp:      true,
	ActionVolumeDown:    true,
	ActionPlayPause:     true,
	ActionMoveLeft:      true,
	ActionMoveDown:      true,
	ActionMoveUp:        true,
	ActionMoveRight:     true,
	ActionEnter:         true,
}

// ParseAction validates an action name
func ParseAction(name string) (ActionToken, error) {
	action := ActionToken(name)
	if !knownActions[action] {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return action, nil
}

// Table maps frame text to actions by exact, case-sensitive match
type Table struct {
	entries map[string]ActionToken
}

// DefaultTable returns the command table for the stock watch client
func DefaultTable() *Table {
	return &Table{entries: map[string]ActionToken{
		"Swipe Left":     ActionPreviousTrack,
		"Swipe Right":    ActionNextTrack,
		"Swipe Up":       ActionVolumeUp,
		"Swipe Down":     ActionVolumeDown,
		"h":              ActionMoveLeft,
		"j":              ActionMoveDown,
		"k":              ActionMoveUp,
		"l":              ActionMoveRight,
		"Button Pressed": ActionPlayPause,
	}}
}

// NewTable builds a table from token -> action name pairs
func NewTable(commands map[string]string) (*Table, error) {
	entries := make(map[string]ActionToken, len(commands))
	for token, name := range commands {
		if token == "" {
			return nil, fmt.Errorf("command token cannot be empty")
		}
		action, err := ParseAction(name)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", token, err)
		}
		entries[token] = action
	}
	return &Table{entries: entries}, nil
}

// Resolve looks up the action for a frame
func (t *Table) Resolve(text string) (ActionToken, bool) {
	action, ok := t.entries[text]
	return action, ok
}

// Len returns the number of recognized tokens
func (t *Table) Len() int {
	return len(t.entries)
}

// Actions returns the distinct actions the table can produce, sorted
func (t *Table) Actions() []ActionToken {
	seen := make(map[ActionToken]bool)
	var actions []ActionToken
	for _, action := range t.entries {
		if !seen[action] {
			seen[action] = true
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Trigger fires an action when a transcript contains Phrase
type Trigger struct {
	Phrase string
	Action ActionToken
}

// Triggers matches transcripts against phrases, case-insensitively
type Triggers struct {
	triggers []Trigger
}

// DefaultTriggers returns the stock transcript triggers
func DefaultTriggers() *Triggers {
	return &Triggers{triggers: []Trigger{{Phrase: "enter", Action: ActionEnter}}}
}

// NewTriggers builds triggers from phrase -> action name pairs, ordered by phrase
func NewTriggers(phrases map[string]string) (*Triggers, error) {
	keys := make([]string, 0, len(phrases))
	for phrase := range phrases {
		keys = append(keys, phrase)
	}
	sort.Strings(keys)

	triggers := make([]Trigger, 0, len(keys))
	for _, phrase := range keys {
		if strings.TrimSpace(phrase) == "" {
			return nil, fmt.Errorf("trigger phrase cannot be empty")
		}
		action, err := ParseAction(phrases[phrase])
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", phrase, err)
		}
		triggers = append(triggers, Trigger{Phrase: strings.ToLower(phrase), Action: action})
	}
	return &Triggers{triggers: triggers}, nil
}

// Match returns the actions whose phrase occurs in text
func (t *Triggers) Match(text string) []ActionToken {
	lower := strings.ToLower(text)

	var actions []ActionToken
	for _, trigger := range t.triggers {
		if strings.Contains(lower, trigger.Phrase) {
			actions = append(actions, trigger.Action)
		}
	}
	return actions
}

// Actions returns the actions the triggers can produce
func (t *Triggers) Actions() []ActionToken {
	actions := make([]ActionToken, 0, len(t.triggers))
	for _, trigger := range t.triggers {
		actions = append(actions, trigger.Action)
	}
	return actions
}
