// Package engine reconciles fetched feed snapshots against a node's
// indicator store.
//
// A cycle stamps every sighting with the fetch wall clock, upserts it,
// and announces records that are new or changed. Records whose stamp
// predates the cycle are treated as dropped from the feed: they are
// deleted and withdrawn exactly once. A restarted node replays its
// surviving records with Resync before polling resumes.
package engine
