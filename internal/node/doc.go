// Package node assembles the per-feed machinery: store, hub, engine,
// poller, and health tracking, with a registry over all running feeds.
package node
