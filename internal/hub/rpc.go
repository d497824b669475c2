package hub

import (
	"encoding/json"
	"fmt"

	"github.com/feedrelay/feedrelay/pkg/wire"
)

// dispatch routes one request to its handler.
func (h *Hub) dispatch(c *client, req wire.Request) {
	switch req.Method {
	case wire.MethodGet:
		h.handleGet(c, req)
	case wire.MethodGetAll:
		h.handleGetAll(c, req)
	case wire.MethodGetRange:
		h.handleGetRange(c, req)
	case wire.MethodLength:
		h.handleLength(c, req)
	default:
		h.replyError(c, req.ID, wire.CodeInvalidArgument, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// handleGet answers with the stored record for one indicator, or a null
// result when the indicator is unknown.
func (h *Hub) handleGet(c *client, req wire.Request) {
	var indicator string
	if len(req.Params.Indicator) == 0 || json.Unmarshal(req.Params.Indicator, &indicator) != nil {
		h.replyError(c, req.ID, wire.CodeInvalidArgument, "indicator must be a string")
		return
	}

	value, found, err := h.store.Get(indicator)
	if err != nil {
		h.replyError(c, req.ID, wire.CodeInternal, err.Error())
		return
	}
	if !found {
		h.reply(c, wire.Reply{ID: req.ID})
		return
	}
	h.reply(c, wire.Reply{ID: req.ID, Result: value})
}

// handleGetAll replays the whole store to the requesting peer as update
// events, then confirms completion.
func (h *Hub) handleGetAll(c *client, req wire.Request) {
	if err := h.stream(c, nil, nil); err != nil {
		h.replyError(c, req.ID, wire.CodeInternal, err.Error())
		return
	}
	h.reply(c, wire.Reply{ID: req.ID, Result: "OK"})
}

// handleGetRange replays the records whose stamp falls in [from, to) to
// the requesting peer as update events, then confirms completion.
func (h *Hub) handleGetRange(c *client, req wire.Request) {
	if req.Params.Index != "" && req.Params.Index != wire.IndexUpdated {
		h.replyError(c, req.ID, wire.CodeInvalidArgument, fmt.Sprintf("unknown index %q", req.Params.Index))
		return
	}
	if err := h.stream(c, req.Params.From, req.Params.To); err != nil {
		h.replyError(c, req.ID, wire.CodeInternal, err.Error())
		return
	}
	h.reply(c, wire.Reply{ID: req.ID, Result: "OK"})
}

// handleLength answers with the store's current record count.
func (h *Hub) handleLength(c *client, req wire.Request) {
	count, err := h.store.Count()
	if err != nil {
		h.replyError(c, req.ID, wire.CodeInternal, err.Error())
		return
	}
	h.reply(c, wire.Reply{ID: req.ID, Result: count})
}

// stream sends stored records to one peer as update events in ascending
// stamp order. A peer that disconnects mid-replay ends the stream early
// without error.
func (h *Hub) stream(c *client, from, to *int64) error {
	for entry, err := range h.store.Query(wire.IndexUpdated, from, to, true) {
		if err != nil {
			return err
		}
		data, err := json.Marshal(wire.Event{
			Event:     wire.EventUpdate,
			Feed:      h.feed,
			Indicator: entry.Key,
			Value:     entry.Value,
		})
		if err != nil {
			return err
		}
		if !h.push(c, data) {
			return nil
		}
	}
	return nil
}

func (h *Hub) reply(c *client, rep wire.Reply) {
	data, err := json.Marshal(rep)
	if err != nil {
		h.log.Warn("marshal reply", "feed", h.feed, "error", err)
		return
	}
	h.push(c, data)
}

func (h *Hub) replyError(c *client, id, code, message string) {
	h.reply(c, wire.Reply{ID: id, Error: &wire.Error{Code: code, Message: message}})
}
