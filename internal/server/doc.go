// Package server implements the HTTP API for submitting audio for recognition
// and for monitoring the service (health, statistics, Prometheus metrics).
package server
