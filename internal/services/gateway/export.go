package gateway

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

var csvHeader = []string{"ID", "Timestamp", "Temperature (C)", "Humidity (%)", "Soil Moisture (%)", "Motion", "Distance (cm)"}

func csvRow(r model.SensorReading) []string {
	distance := ""
	if r.Distance != nil {
		distance = strconv.FormatFloat(*r.Distance, 'f', -1, 64)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.ObservedAt.UTC().Format(time.RFC3339),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.FormatFloat(r.Humidity, 'f', -1, 64),
		strconv.Itoa(r.SoilMoisture),
		strconv.Itoa(r.Motion),
		distance,
	}
}

// handleExportCSV streams the readings of the last ?hours (default 24).
func (g *Gateway) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	readings := g.coord.Window(ctx, windowParam(r))

	filename := fmt.Sprintf("history_%s.csv", g.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, rd := range readings {
		_ = cw.Write(csvRow(rd))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		g.log.Warnf("gateway: csv export: %v", err)
	}
}
