// Package stream runs cancellable, multi-turn streamed generations.
//
// A Session moves through the states of Transition; the Controller drives one
// session through provider calls and tool-calling turns and hands the
// resulting Effects to the caller in order. The Manager keeps the registry of
// active sessions, remembers recently finished ones, and routes cancellation
// either to the local session or, through a CancelBroadcaster, to the
// instance that owns it.
package stream
