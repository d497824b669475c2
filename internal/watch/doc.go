// Package watch evaluates health rules against per-feed samples, keeps
// firing and recently resolved alerts, delivers webhook notifications,
// and probes feed endpoints for TLS certificate expiry.
package watch
