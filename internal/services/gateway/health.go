package gateway

import (
	"net/http"
)

type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	MQTT    bool   `json:"mqtt"`
	Store   bool   `json:"store"`
	// StoreWritesFailing is set while the last failed write is recent.
	StoreWritesFailing bool           `json:"store_writes_failing"`
	Subscribers        int            `json:"subscribers"`
	Mode               string         `json:"mode"`
	Aggregating        map[string]any `json:"aggregating,omitempty"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// writesFailing reports whether a store write failed within the window.
func (g *Gateway) writesFailing() bool {
	return g.cfg.WriteErrorWindow > 0 && g.cfg.StoreWriteErrorAge() < g.cfg.WriteErrorWindow
}

// handleHealth always answers 200 and reports ok, degraded or down.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	st := healthBody{
		Version:            g.cfg.Version,
		MQTT:               g.cfg.MQTTConnected(),
		Store:              g.cfg.StorePing(ctx) == nil,
		StoreWritesFailing: g.writesFailing(),
		Subscribers:        g.coord.Hub().Count(),
		Mode:               string(g.coord.Mode()),
		Aggregating:        g.coord.PartialReading(),
	}
	storeOK := st.Store && !st.StoreWritesFailing
	switch {
	case st.MQTT && storeOK:
		st.Status = "ok"
	case st.MQTT || storeOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReadyz answers 200 only when the broker and the store are reachable
// and no store write failed recently.
func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	ready := g.cfg.MQTTConnected() && g.cfg.StorePing(ctx) == nil && !g.writesFailing()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}
