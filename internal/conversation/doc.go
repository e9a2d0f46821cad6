// Package conversation records chat transcripts around an answer generator.
//
// # Recorder
//
// Recorder wraps an answer.Generator and implements the same interface, so
// the gateway calls it like any other generator:
//
//	rec := conversation.NewRecorder(store, answer.NewEcho(0), broadcaster, 20, logger)
//	res, err := rec.Generate(ctx, turn)
//
// For each turn it:
//
//  1. Loads the last historyLimit messages of the session into turn.History
//  2. Saves the user message (with attachment descriptors) before generating
//  3. Forwards stream chunks while accumulating text
//  4. Saves the assistant message with sources and tools once the stream ends
//
// A reply cut short by an error chunk, or because the request went away, is
// saved with "interrupted": true. Saves use
// their own timeout context so a cancelled request still records its turn.
//
// # Broadcaster
//
// Broadcaster hands recorded messages to live subscribers of a session.
// Publishing never blocks. A subscriber with a full buffer is evicted, its
// feed closes, and it should re-read the transcript before subscribing again.
package conversation
