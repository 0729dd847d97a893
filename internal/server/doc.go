// Package server hosts the Fiber HTTP service that fronts the asset origin.
// It owns the middleware chain (panic recovery, request IDs), the catch-all
// route that hands requests to a ProxyHandler, and the shared upstream
// http.Client tuning. Diagnostic surfaces live under the reserved "/-/"
// prefix and are registered by the routes subpackage; keep exports narrow and
// accept explicit dependencies so main and tests can wire fakes.
package server
