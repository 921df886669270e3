// Package httputil provides HTTP utilities shared by the service handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "invalid limit")
//	httputil.WriteNotFound(w, "receipt not found")
//
// Every error body has the shape {"error": "..."}.
//
// # Middleware
//
// The server stacks the middleware in this order:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.ActorMiddleware,
//	)(router)
//
// ActorMiddleware trusts the X-Authenticated-User and X-Authenticated-Api-Key
// headers set by the authenticating gateway and turns them into the
// actor.Actor that lifecycle sessions stamp changes with.
package httputil
