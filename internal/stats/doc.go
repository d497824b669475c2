// Package stats tracks per-feed polling outcomes and derives a coarse
// health state from them.
package stats
