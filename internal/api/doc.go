// Package api exposes the HTTP interface for the keyword enrichment service.
//
// Two delivery modes are offered for the same pipeline: a synchronous endpoint
// that blocks until the run finishes, and a server-sent-events stream that
// forwards each checkpoint as it lands.
package api
