// Package keepalive writes a heartbeat into each configured Appwrite project
// so free-tier projects are not paused for inactivity.
//
// For every project the Runner makes sure the _keepalive database and its
// heartbeats collection exist, creating them on first run, and then updates
// the status document. Only a not-found update falls back to creating the
// document; every other error fails the project. Projects are processed one
// after another and each yields a Result.
//
// Setup provisions the same resources up front and treats resources that
// already exist as done.
package keepalive
