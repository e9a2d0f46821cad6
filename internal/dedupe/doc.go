// Package dedupe collapses concurrent identical requests into one execution.
//
// A Group holds one shared result handle per key. The first caller for a key
// starts the work; callers arriving before it settles wait on the same handle
// and receive the same value or error. The entry is removed the instant the
// work settles, so a call made afterwards runs again instead of replaying a
// finished result.
//
//	answers := dedupe.New[*Answer](30*time.Second, time.Minute)
//	defer answers.Close()
//
//	key := dedupe.GenerateKey("chat", callerID, sessionID, digest)
//	ans, shared, err := answers.Do(ctx, key, 0, func() (*Answer, error) {
//	    return generate(detachedCtx)
//	})
//
// Entries older than the TTL that never settled are treated as abandoned: the
// next caller starts a fresh execution and a background sweeper eventually
// drops them from the table.
package dedupe
