// Package ratelimit provides the per-caller fixed-window limiter used by the
// chat gateway.
//
// # Algorithm
//
// Every Check increments a counter for the caller identity. The counter lives
// in a window of fixed length; when the current time passes the window's reset
// time the entry is replaced with a fresh window before counting. A request is
// allowed while the count is at or below capacity:
//
//	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Capacity: 30})
//	res := limiter.Check(callerID)
//	if !res.Allowed {
//	    // respond 429 with res.RetryAfterSeconds(time.Now())
//	}
//
// # Memory
//
// Entries are never removed on the request path. Once more than HighWater
// identities are tracked, Check sweeps entries whose window ended more than
// RetentionWindows windows ago. The sweep only removes expired windows, so it
// cannot change the outcome for any identity.
package ratelimit
