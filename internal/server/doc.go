// Package server implements the HTTP control API and the websocket live
// translation feed. It exposes session lifecycle, stored recordings, report
// generation and monitoring endpoints.
package server
