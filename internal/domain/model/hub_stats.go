package model

import "time"

// HubStats is the snapshot served on /stats and rendered by the monitor command.
type HubStats struct {
	TotalUsers       int           `json:"total_users"`
	TotalConnections int           `json:"total_connections"`
	Pushed           uint64        `json:"pushed"`
	DroppedOffline   uint64        `json:"dropped_offline"`
	DroppedOverflow  uint64        `json:"dropped_overflow"`
	Uptime           time.Duration `json:"uptime"`
}
