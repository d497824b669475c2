// Package wire defines the JSON frame types exchanged between feed nodes
// over the WebSocket peer link: update/withdraw events broadcast to
// subscribers, and the request/reply envelope for synchronous queries.
// External Go consumers can import this package to speak the protocol.
package wire
