// Package monitor follows a stack operation through the provider's event
// stream.
//
// A Monitor polls stack events, forwards each new event to an EventSink exactly
// once in chronological order, and resolves when the stack reaches a terminal
// status. Events from earlier operations are filtered out by anchoring on the
// most recent stack-level start event.
package monitor
