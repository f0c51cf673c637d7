// Package report turns keepalive results into success and failure counts and
// prints them for humans.
package report
