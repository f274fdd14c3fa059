// Package session coordinates the meeting pipeline: it runs both capture
// sources, sequences their segments globally, fans translation calls out and
// publishes results strictly in dispatch order.
package session
