// Package errors defines the classified error type shared by the runledger
// service, client pipeline, and maintenance controllers, together with the
// HTTP adapter that maps categories onto response status codes.
package errors
