// Package middleware provides ready-made middlewares for the webchat client.
// Each constructor returns a [client.MiddlewareConfig] for
// [client.WithMiddleware].
//
//   - [NewTimeoutMiddleware] bounds a whole turn, stream included.
//   - [NewLoggingMiddleware] writes slog entries around every turn at one of
//     three verbosity levels.
//
// Retrying is not offered here: the ChatGPT provider already retries 403
// answers within the turn, and repeating a turn that reached the backend
// would post the message twice.
//
// # Usage
//
//	c, err := client.New(provider,
//	    client.WithMiddleware(
//	        middleware.NewTimeoutMiddleware(2*time.Minute),
//	        middleware.NewLoggingMiddleware(slog.Default(), middleware.LogLevelStandard),
//	    ),
//	)
//
// The first entry is the outermost wrapper: a turn travels
// Timeout, then Logging, then the provider, and the response returns in
// reverse order.
package middleware
