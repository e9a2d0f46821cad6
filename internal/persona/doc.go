// Package persona defines the persona metadata that scopes a conversation.
//
// A portal user talks either as themselves, on behalf of a customer persona,
// or as an advisor persona. Sessions are keyed by the user and the persona, so
// switching persona always lands in a different conversation.
//
// Upstream clients sometimes send both a customer and an advisor identifier.
// Normalize resolves that deterministically: the customer persona wins and the
// advisor identifier is dropped, with the conflict reported to the caller for
// logging rather than rejected.
package persona
