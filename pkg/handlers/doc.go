// Package handlers provides the pluggable task handler registry. Business
// handlers (media processing, publishing) register here at startup; the
// scheduler only knows the Execute contract.
package handlers
