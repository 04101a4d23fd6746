package core

import "time"

// defaultRequestTimeout bounds every probe request. Probes themselves finish
// within healthCheckTimeout.
const defaultRequestTimeout = 5 * time.Second

// MountRoutes defines the routing table.
//
// Middleware order:
//  1. Recoverer       - catches panics, must be outermost.
//  2. ContextTimeout  - sets the request deadline.
//  3. RequestID       - propagates or generates X-Request-Id.
//  4. RequestLogger   - logs method, path, status and duration.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/health/live", s.HandleLive)
	s.router.Get("/health/streams", s.HandleStreams)
}
