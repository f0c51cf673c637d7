// Package logger builds the structured slog logger shared by the keepalive
// commands. Output is JSON in prod and text elsewhere, and always goes to the
// writer the caller picks so the run report on stdout stays readable.
package logger
