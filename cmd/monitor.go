package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/webitel/im-notification-service/internal/domain/model"
)

const monitorHistory = 60

// statsURL turns a listen address into the local /stats endpoint.
func statsURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + "/stats"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/stats"
}

func fetchStats(ctx context.Context, client *http.Client, url string) (model.HubStats, error) {
	var s model.HubStats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return s, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("stats: unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&s)
	return s, err
}

func formatStats(s model.HubStats) string {
	return fmt.Sprintf(
		"Users online:     %d\nConnections:      %d\nPushed:           %d\nDropped offline:  %d\nDropped overflow: %d\nUptime:           %s",
		s.TotalUsers, s.TotalConnections, s.Pushed, s.DroppedOffline, s.DroppedOverflow, s.Uptime.Truncate(time.Second),
	)
}

// runMonitor renders a live dashboard of the hub until q or Ctrl-C.
func runMonitor(ctx context.Context, url string, every time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("termui init: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = " im-notification-service " + url + " "
	summary.SetRect(0, 0, 60, 9)

	conns := widgets.NewSparkline()
	conns.Title = "connections"
	conns.LineColor = ui.ColorGreen
	rate := widgets.NewSparkline()
	rate.Title = "pushes / tick"
	rate.LineColor = ui.ColorCyan
	group := widgets.NewSparklineGroup(conns, rate)
	group.Title = " history "
	group.SetRect(0, 9, 60, 21)

	client := &http.Client{Timeout: every}
	var lastPushed uint64
	tick := func() {
		s, err := fetchStats(ctx, client, url)
		if err != nil {
			summary.Text = "error: " + err.Error()
		} else {
			summary.Text = formatStats(s)
			conns.Data = appendWindow(conns.Data, float64(s.TotalConnections))
			if lastPushed != 0 && s.Pushed >= lastPushed {
				rate.Data = appendWindow(rate.Data, float64(s.Pushed-lastPushed))
			}
			lastPushed = s.Pushed
		}
		ui.Render(summary, group)
	}
	tick()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	events := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if e.ID == "q" || e.ID == "<C-c>" {
				return nil
			}
		case <-ticker.C:
			tick()
		}
	}
}

func appendWindow(data []float64, v float64) []float64 {
	data = append(data, v)
	if len(data) > monitorHistory {
		data = data[len(data)-monitorHistory:]
	}
	return data
}
