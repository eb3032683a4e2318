// Package connection provides dial retry for VIP2P clients.
//
// The protocol has no session resumption, so nothing here reconnects on its
// own. Callers that want to retry a failed Connect wrap it in Retry, which
// waits between attempts with exponential backoff:
//
//	delay = base + random(0, base * jitter)
//	base  = initial * multiplier^attempt, capped at max
//
// The defaults start at 500ms and cap at 30s with 25% jitter.
package connection
