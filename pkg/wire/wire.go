package wire

import "encoding/json"

// Event types carried in the Event.Event field.
const (
	// EventHello is sent once to each peer immediately after it connects.
	EventHello = "hello"

	// EventUpdate announces that an indicator was added or refreshed.
	EventUpdate = "update"

	// EventWithdraw announces that an indicator aged out and was removed.
	EventWithdraw = "withdraw"
)

// Request methods accepted by a node's peer endpoint.
const (
	MethodGet      = "get"
	MethodGetAll   = "get_all"
	MethodGetRange = "get_range"
	MethodLength   = "length"
)

// Error codes returned in Reply.Error.Code.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

// Reserved attribute keys present on every indicator record.
const (
	AttrSources   = "sources"
	AttrUpdated   = "_updated"
	AttrFirstSeen = "first_seen"
	AttrLastSeen  = "last_seen"
)

// IndexUpdated is the name of the millisecond-timestamp index every node
// maintains over its records. It is the only index peers may query.
const IndexUpdated = "_updated"

// Event is one broadcast frame. Update and withdraw events carry the
// indicator and its attribute map; hello carries the feed name and the
// current record count.
type Event struct {
	Event     string         `json:"event"`
	Feed      string         `json:"feed"`
	Indicator string         `json:"indicator,omitempty"`
	Value     map[string]any `json:"value,omitempty"`
	Length    int64          `json:"length,omitempty"`
}

// Request is a query frame sent by a peer. ID is echoed back in the Reply
// so callers can correlate; Source names the requesting node and is used
// for logging only.
type Request struct {
	ID     string        `json:"id"`
	Method string        `json:"method"`
	Source string        `json:"source,omitempty"`
	Params RequestParams `json:"params,omitempty"`
}

// RequestParams holds the per-method arguments.
//
// Indicator is kept raw so the receiver can reject non-string values
// instead of silently coercing them.
type RequestParams struct {
	Indicator json.RawMessage `json:"indicator,omitempty"`
	Index     string          `json:"index,omitempty"`
	From      *int64          `json:"from,omitempty"`
	To        *int64          `json:"to,omitempty"`
}

// Reply closes out one Request. Exactly one of Result or Error is
// meaningful; a missing record yields Result null with no Error, matching
// a point read that found nothing.
type Reply struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
	Error  *Error `json:"error,omitempty"`
}

// Error describes a failed Request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
