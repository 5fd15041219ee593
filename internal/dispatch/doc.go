// Package dispatch maps watch command frames and transcripts to key-press actions.
//
// A Table resolves command frames by exact, case-sensitive match. Triggers
// match transcripts by case-insensitive phrase containment. The Dispatcher
// presses resolved actions through a Presser; press failures are logged and
// counted but never returned, so a faulty key device cannot break a connection.
package dispatch
