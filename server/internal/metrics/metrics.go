package metrics

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/liveviz/liveviz/server/internal/ws"
)

// Handler serves GET /metrics in the Prometheus text exposition format.
type Handler struct {
	hub *ws.Hub
}

// New creates a metrics Handler reading from hub.
func New(hub *ws.Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range Gather(h.hub) {
		if err := enc.Encode(mf); err != nil {
			slog.Error("metrics: encode failed", "metric", mf.GetName(), "err", err)
			return
		}
	}
}

// Gather builds the metric families describing hub's current state.
func Gather(hub *ws.Hub) []*dto.MetricFamily {
	channels := hub.Channels()

	viewers := family("liveviz_channel_viewers", "Viewers registered on a channel.", dto.MetricType_GAUGE)
	traces := family("liveviz_channel_traces", "Traces held by a channel.", dto.MetricType_GAUGE)
	broadcasts := family("liveviz_channel_broadcasts_total", "Messages broadcast to a channel's viewers.", dto.MetricType_COUNTER)
	failures := family("liveviz_channel_delivery_failures_total", "Deliveries that failed and evicted a viewer.", dto.MetricType_COUNTER)
	captures := family("liveviz_channel_captures_total", "Completed snapshot captures.", dto.MetricType_COUNTER)
	pending := family("liveviz_channel_pending_captures", "Snapshot captures running or queued.", dto.MetricType_GAUGE)

	for _, ch := range channels {
		st := ch.Stats()
		label := []*dto.LabelPair{{Name: proto.String("channel"), Value: proto.String(ch.ID())}}
		viewers.Metric = append(viewers.Metric, gauge(label, float64(st.Viewers)))
		traces.Metric = append(traces.Metric, gauge(label, float64(st.Traces)))
		broadcasts.Metric = append(broadcasts.Metric, counter(label, float64(st.Broadcasts)))
		failures.Metric = append(failures.Metric, counter(label, float64(st.DeliveryFailures)))
		captures.Metric = append(captures.Metric, counter(label, float64(st.Captures)))
		pending.Metric = append(pending.Metric, gauge(label, float64(st.PendingCaptures)))
	}

	out := []*dto.MetricFamily{
		withValue(family("liveviz_channels", "Channels hosted by the server.", dto.MetricType_GAUGE),
			gauge(nil, float64(len(channels)))),
		withValue(family("liveviz_connections", "Open viewer WebSocket connections.", dto.MetricType_GAUGE),
			gauge(nil, float64(hub.Count()))),
	}
	// Families with no samples are invalid in the text format.
	for _, mf := range []*dto.MetricFamily{viewers, traces, broadcasts, failures, captures, pending} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func withValue(mf *dto.MetricFamily, m *dto.Metric) *dto.MetricFamily {
	mf.Metric = []*dto.Metric{m}
	return mf
}

func gauge(labels []*dto.LabelPair, v float64) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func counter(labels []*dto.LabelPair, v float64) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: proto.Float64(v)}}
}
