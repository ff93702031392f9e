// Package ratelimit admits connections and requests per client IP.
//
// Each IP gets its own token bucket from golang.org/x/time/rate. Buckets
// idle longer than the entry TTL are dropped by a background sweep, so a
// limiter must be stopped when it is no longer used.
//
// The server consults a Limiter before a connection reaches protocol
// detection; Middleware applies the same limiter to HTTP requests.
package ratelimit
