// Package broadcast implements the websocket Hub using the actor pattern.
//
// The Hub owns every live socket and is the transport the router delivers through.
// Uses single goroutine + command channel (no mutexes). Per-connection write goroutines handle slow clients gracefully.
package broadcast
