// Package scheduler runs keepalive rounds, once or on a fixed interval, and
// skips projects whose circuit breaker is open.
package scheduler
