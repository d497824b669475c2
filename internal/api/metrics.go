package api

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// metrics serves GET /metrics in Prometheus text exposition format.
// Every family carries a "feed" label so one node exposes all of its
// feeds through a single scrape target.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	indicators := newFamily("feedrelay_indicators",
		"Number of indicators currently stored for the feed.", dto.MetricType_GAUGE)
	cycles := newFamily("feedrelay_poll_cycles_total",
		"Poll cycles attempted since the node started.", dto.MetricType_COUNTER)
	failures := newFamily("feedrelay_poll_failures_total",
		"Poll cycles that ended in a fetch or store error.", dto.MetricType_COUNTER)
	lines := newFamily("feedrelay_lines_scanned_total",
		"Raw feed lines scanned across all cycles.", dto.MetricType_COUNTER)
	updates := newFamily("feedrelay_updates_emitted_total",
		"Update events emitted to peers.", dto.MetricType_COUNTER)
	withdraws := newFamily("feedrelay_withdraws_emitted_total",
		"Withdraw events emitted to peers.", dto.MetricType_COUNTER)
	lastCycle := newFamily("feedrelay_last_cycle_duration_seconds",
		"Wall-clock duration of the most recent poll cycle.", dto.MetricType_GAUGE)
	peers := newFamily("feedrelay_peers_connected",
		"WebSocket peers currently subscribed to the feed.", dto.MetricType_GAUGE)

	for _, n := range h.reg.List() {
		s := n.Stats()
		addSample(indicators, n.Name(), float64(s.Indicators))
		addSample(cycles, n.Name(), float64(s.Cycles))
		addSample(failures, n.Name(), float64(s.Failures))
		addSample(lines, n.Name(), float64(s.Totals.Lines))
		addSample(updates, n.Name(), float64(s.Totals.Updates))
		addSample(withdraws, n.Name(), float64(s.Totals.Withdraws))
		addSample(lastCycle, n.Name(), s.LastCycleSeconds)
		addSample(peers, n.Name(), float64(n.Hub().Count()))
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	families := []*dto.MetricFamily{
		indicators, cycles, failures, lines, updates, withdraws, lastCycle, peers,
	}
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			h.log.Warn("metrics encode failed", "err", err)
			return
		}
	}
}

// --- exposition helpers -----------------------------------------------------

func newFamily(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

// addSample appends one labeled sample to mf, as a counter or a gauge
// depending on the family's declared type.
func addSample(mf *dto.MetricFamily, feed string, value float64) {
	m := &dto.Metric{
		Label: []*dto.LabelPair{{
			Name:  proto.String("feed"),
			Value: proto.String(feed),
		}},
	}
	if mf.GetType() == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(value)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(value)}
	}
	mf.Metric = append(mf.Metric, m)
}
