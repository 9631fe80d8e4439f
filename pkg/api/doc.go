// Package api exposes the scheduler, remediation engine and coordinator
// over HTTP. Handlers translate between JSON bodies and component calls;
// taxonomy errors map to status codes (404 not found, 400 validation,
// 503 circuit open with Retry-After, 502 downstream). The aggregated
// health endpoint returns 200, 207 or 503 by overall status.
package api
