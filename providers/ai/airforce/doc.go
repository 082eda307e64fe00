// Package airforce implements the webchat provider interface for the
// api.airforce completions and imagine2 endpoints.
//
// [New] reads AIRFORCE_API_KEY and AIRFORCE_BASE_URL from the environment.
// Text models are served by the OpenAI-compatible /chat/completions endpoint;
// long messages are cut with [SplitMessage] and every fragment is cleaned
// with [Filter]. Image models go through imagine2 and yield one image result.
package airforce
