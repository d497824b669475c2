// Package hub fans a feed's update and withdraw events out to WebSocket
// peers and answers their query requests against the feed's store.
package hub
