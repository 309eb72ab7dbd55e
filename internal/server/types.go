package server

import (
	"github.com/CK6170/wifiserial-web/internal/config"
	"github.com/CK6170/wifiserial-web/internal/device"
	"github.com/CK6170/wifiserial-web/internal/history"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

// APIError is the error envelope of the JSON endpoints. The device-facing
// endpoints (poll, send, upload, save) answer in plain text instead.
type APIError struct {
	Error string `json:"error"`
}

// ChannelInfo is one UART's live state.
type ChannelInfo struct {
	Channel  int `json:"channel"`
	Baud     int `json:"baud"`
	Buffered int `json:"buffered"`
}

// AboutResponse is returned by /about.
type AboutResponse struct {
	DeviceName   string            `json:"deviceName"`
	IPAddress    string            `json:"ipAddress"`
	Uptime       string            `json:"uptime"`
	GoVersion    string            `json:"goVersion"`
	CPUs         int               `json:"cpus,omitempty"`
	MemTotal     uint64            `json:"memTotal,omitempty"`
	MemAvailable uint64            `json:"memAvailable,omitempty"`
	Channels     []ChannelInfo     `json:"channels"`
	Topics       config.Topics     `json:"topics"`
	OTA          ota.Status        `json:"ota"`
	Ports        []device.PortInfo `json:"ports"`
}

type HistoryResponse struct {
	Updates []ota.Result `json:"updates"`
}

type StatsResponse struct {
	Kinds []history.Stats `json:"kinds"`
}
