// Package utils provides shared low-level helpers for the webchat providers:
// HTTP round-trips that carry browser headers and surface upstream status
// codes, streaming line and SSE readers, lenient JSON decoding for
// hand-exported archives, and timing and truncation helpers.
//
// Key entry points: [DoPostSync] and [DoGetSync] for JSON round-trips,
// [DoPostStream] together with [Lines] or [SSEScanner] for streaming bodies,
// [StatusError] for non-2xx responses and [Lenient] for repairing JSON.
package utils
