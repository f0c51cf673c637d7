// Package telemetry wires OpenTelemetry tracing for keepalive runs.
package telemetry
