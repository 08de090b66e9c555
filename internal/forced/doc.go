// Package forced keeps chunks loaded on behalf of many owners with a
// reference counter per chunk.
//
// Acquire and Release may be called from any goroutine. Their effect is
// folded into the authoritative count on the main goroutine, either
// immediately (when called there) or on the next tick. Only the main
// goroutine talks to the engine: it places and removes keep-loaded markers,
// requests async loads, and completes ticket futures. Load results arriving
// on loader goroutines are marshalled back onto the main goroutine before
// they touch a ticket.
package forced
