// Package middleware provides HTTP middleware for the photo library API:
// W3C Extended Log Format access logging, Prometheus request metrics and
// gzip response compression.
package middleware
