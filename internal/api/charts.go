package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/neurobile/internal/httputil"
)

const defaultChartPoints = 200

// showRatioChart renders the session's recent alpha/beta ratios as an HTML
// line chart alongside the absolute band powers.
func (s *Server) showRatioChart(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB == nil {
		httputil.NotFound(w, "no session database")
		return
	}
	n := defaultChartPoints
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			httputil.BadRequest(w, "n must be a positive integer")
			return
		}
		n = parsed
	}
	ratios, err := s.opts.DB.RecentRatios(s.opts.SessionID, n)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	x := make([]string, len(ratios))
	ratioData := make([]opts.LineData, len(ratios))
	alphaData := make([]opts.LineData, len(ratios))
	betaData := make([]opts.LineData, len(ratios))
	for i, rt := range ratios {
		x[i] = rt.At.Format("15:04:05.0")
		ratioData[i] = opts.LineData{Value: rt.Ratio}
		alphaData[i] = opts.LineData{Value: rt.Alpha * 1e12}
		betaData[i] = opts.LineData{Value: rt.Beta * 1e12}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alpha/Beta Ratio", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Alpha/Beta Ratio", Subtitle: fmt.Sprintf("session=%s points=%d at=%s", s.opts.SessionID, len(ratios), time.Now().Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("alpha/beta", ratioData).
		AddSeries("alpha (µV²)", alphaData).
		AddSeries("beta (µV²)", betaData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
