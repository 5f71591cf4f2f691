package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/akinalp/meshchat/pkg/promparse"
)

// relayStats, relay'in /metrics çıktısından okunan özet.
type relayStats struct {
	Connections int
	Rooms       int
	Bytes       uint64
	FramesTotal uint64
	Frames      map[string]uint64 // frame type → adet
	Dropped     map[string]uint64 // drop nedeni → adet
}

// fetchRelayStats, relayURL/metrics'i çeker ve promparse ile okur.
func fetchRelayStats(ctx context.Context, client *http.Client, relayURL string) (*relayStats, error) {
	url := strings.TrimSuffix(relayURL, "/") + "/metrics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build metrics request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch relay metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch relay metrics: unexpected status %d", resp.StatusCode)
	}
	m, err := promparse.ParseReader(resp.Body)
	if err != nil {
		return nil, err
	}
	if !m.Has("meshchat_relay_connections") {
		return nil, fmt.Errorf("%s does not look like a meshchat relay", relayURL)
	}

	stats := &relayStats{
		Connections: m.Int("meshchat_relay_connections"),
		Rooms:       m.Int("meshchat_relay_rooms"),
		Bytes:       m.Uint64("meshchat_relay_bytes_total"),
		FramesTotal: m.SumUint64("meshchat_relay_frames_total"),
		Frames:      make(map[string]uint64),
		Dropped:     make(map[string]uint64),
	}
	for _, t := range m.LabelValues("meshchat_relay_frames_total", "type") {
		stats.Frames[t] = m.Uint64WithLabel("meshchat_relay_frames_total", "type", t)
	}
	for _, r := range m.LabelValues("meshchat_relay_frames_dropped_total", "reason") {
		stats.Dropped[r] = m.Uint64WithLabel("meshchat_relay_frames_dropped_total", "reason", r)
	}
	return stats, nil
}

func (a *app) cmdRelayStats(ctx context.Context) error {
	if a.opts.RelayURL == "" {
		return fmt.Errorf("no relay configured (MESHCHAT_RELAY_URL)")
	}
	stats, err := fetchRelayStats(ctx, a.opts.HTTPClient, a.opts.RelayURL)
	if err != nil {
		return err
	}
	a.out.Printf("relay: %d peers in %d rooms, %d frames, %d bytes received\n",
		stats.Connections, stats.Rooms, stats.FramesTotal, stats.Bytes)
	for _, t := range sortedKeys(stats.Frames) {
		a.out.Printf("  %-10s %d\n", t, stats.Frames[t])
	}
	for _, r := range sortedKeys(stats.Dropped) {
		a.out.Printf("  dropped %-12s %d\n", r, stats.Dropped[r])
	}
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	return slices.Sorted(maps.Keys(m))
}
