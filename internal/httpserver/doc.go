// Package httpserver runs the optional status server of a daemon keepalive.
package httpserver
