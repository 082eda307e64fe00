// Package ai defines the provider-agnostic contract shared by every webchat
// backend. Callers build a [ChatRequest], hand it to a [Provider] and consume
// the resulting [ChatStream], an iterator of [StreamEvent] values carrying
// text fragments, image results, conversation metadata and the final
// completion reason.
//
// A [Conversation] carries the backend's conversation identity between turns.
// Providers work on a copy; the copy reached at the end of a turn is reported
// back through the stream so the caller can pass it into the next request.
//
// Failures are reported with the sentinel errors in errors.go and can be
// matched with errors.Is.
package ai
