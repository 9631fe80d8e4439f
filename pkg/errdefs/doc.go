// Package errdefs defines the error taxonomy shared by all Warden
// components: NotFound, Validation, CircuitOpen and Downstream, plus the
// mapping from taxonomy errors to HTTP status codes used by the API layer.
package errdefs
