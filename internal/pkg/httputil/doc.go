// Package httputil keeps every handler's JSON responses in one shape:
// a bare object on success, an ErrorResponse envelope on failure.
package httputil
