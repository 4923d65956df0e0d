// Package observability builds the zap logger and the Prometheus collectors
// of the developer-portal backend.
package observability
