// Package chatgpt implements the [ai.Provider] and [ai.StreamProvider]
// interfaces for the ChatGPT web application, talking to the same backend
// endpoints the browser client uses.
//
// A turn is driven by an explicit state machine (see turn.go): the session is
// checked and re-acquired through an [auth.Acquirer] when needed, the
// chat-requirements endpoint is asked which challenges apply, proof-of-work is
// solved locally with [challenge.Solver], and the conversation stream is fed
// line by line to [ParseLine]. Image asset pointers found in the stream are
// resolved to download URLs concurrently before the turn moves on.
//
// The primary entry point is [New], which reads WEBCHAT_BASE_URL and
// WEBCHAT_ACCESS_TOKEN from the environment. Session state lives in a
// [credentials.Store] owned by the provider; create separate providers for
// isolated sessions.
package chatgpt
