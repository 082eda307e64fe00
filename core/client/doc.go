// Package client keeps the state of one chat on top of an [ai.Provider]: the
// message history, the conversation pointer returned by session backends and
// a middleware chain every turn passes through.
//
// The entry point is [New], configured with options such as [WithModel],
// [WithSystemPrompt], [WithMiddleware] and [WithObserver]. Turns are sent with
// [Client.SendMessage] or [Client.StreamMessage]; a truncated answer is
// extended with [Client.Continue].
package client
