// Package challenge computes the tokens the chat backend demands before it
// accepts a conversation request: the requirements token sent to the
// sentinel endpoint and the proof-of-work answer sent with the conversation.
//
// Both searches hash a base64-encoded browser fingerprint with SHA3-512 and
// are bounded; an unsolved search returns ok == false and never a made-up
// token.
package challenge
