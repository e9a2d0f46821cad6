// Package answer defines the answer-generator contract and its implementations.
//
// A Generator returns a Result as soon as it has started producing. The
// Result carries the sources and tools that fed the answer, and a Stream of
// Chunks: progress States first, then text fragments in generation order.
// The generator closes the stream when it finishes or its context ends.
//
// Echo is a local generator for development and tests. Remote delegates to
// an HTTP answer service that responds with Server-Sent Events.
package answer
