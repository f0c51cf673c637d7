// Package appwrite is a small client for the parts of the Appwrite Databases
// REST API that the keepalive needs: databases, collections, attributes and
// documents. Non-2xx responses are returned as *Error, which matches
// ErrNotFound and ErrAlreadyExists through errors.Is.
package appwrite
