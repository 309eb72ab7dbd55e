// Package config holds the device configuration record: WiFi, MQTT, web
// credentials and per-channel baud rates.
//
// The record is a single flat JSON file. Secrets are never returned to the
// browser; forms carry the Mask placeholder instead and ApplyForm treats it
// (and an empty value) as "keep the stored secret".
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// Mask is the placeholder shown instead of a stored secret.
	Mask = "********"

	DefaultDeviceName = "esp32c3"
	DefaultMQTTPort   = 1883
	DefaultBaudRate   = 115200
	DefaultWebUser    = "admin"

	// Channels is the number of bridged serial ports (ttyS0, ttyS1).
	Channels = 2
)

// Config is the persisted device record.
type Config struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`

	DeviceName string `json:"deviceName"`

	MQTTBroker   string `json:"mqttBroker"`
	MQTTPort     int    `json:"mqttPort"`
	MQTTUser     string `json:"mqttUser"`
	MQTTPassword string `json:"mqttPassword"`

	WebUser     string `json:"webUser"`
	WebPassword string `json:"webPassword"`

	// BaudRates is indexed by channel.
	BaudRates [Channels]int `json:"baudRates"`

	// Topics are derived from DeviceName; see DeriveTopics.
	Topics Topics `json:"topics"`
}

// Topics are the MQTT topics the bridge publishes/subscribes per channel.
type Topics struct {
	Tty0Rx string `json:"tty0Rx"`
	Tty0Tx string `json:"tty0Tx"`
	Tty1Rx string `json:"tty1Rx"`
	Tty1Tx string `json:"tty1Tx"`
}

// Default returns a fresh record with device defaults filled in.
func Default() Config {
	c := Config{
		DeviceName: DefaultDeviceName,
		MQTTPort:   DefaultMQTTPort,
		WebUser:    DefaultWebUser,
		BaudRates:  [Channels]int{DefaultBaudRate, DefaultBaudRate},
	}
	c.Topics = DeriveTopics(c.DeviceName)
	return c
}

// DeriveTopics builds wifi_serial/<device>/ttyS{0,1}/{rx,tx}.
func DeriveTopics(device string) Topics {
	base := func(ch int, dir string) string {
		return fmt.Sprintf("wifi_serial/%s/ttyS%d/%s", device, ch, dir)
	}
	return Topics{
		Tty0Rx: base(0, "rx"),
		Tty0Tx: base(0, "tx"),
		Tty1Rx: base(1, "rx"),
		Tty1Tx: base(1, "tx"),
	}
}

// fillDefaults repairs zero values after loading an older or hand-edited file.
func (c *Config) fillDefaults() {
	if strings.TrimSpace(c.DeviceName) == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.MQTTPort <= 0 {
		c.MQTTPort = DefaultMQTTPort
	}
	if c.WebUser == "" {
		c.WebUser = DefaultWebUser
	}
	for i := range c.BaudRates {
		if c.BaudRates[i] <= 1 {
			c.BaudRates[i] = DefaultBaudRate
		}
	}
	c.Topics = DeriveTopics(c.DeviceName)
}

// HasWebPassword reports whether a web password is set. The same password
// protects OTA uploads.
func (c Config) HasWebPassword() bool {
	return c.WebPassword != ""
}

// ApplyForm merges a submitted configuration form into c.
//
// Plain fields are updated only when non-empty. Secret fields (password,
// mqttpass, web_password) are updated only when non-empty and not equal to
// Mask. speed0 selects the ttyS1 UART rate (ttyS0 is the USB console); a value
// <= 1 or one that does not parse falls back to DefaultBaudRate.
func (c *Config) ApplyForm(form url.Values) {
	set := func(key string, dst *string) {
		if v := form.Get(key); v != "" {
			*dst = v
		}
	}
	secret := func(key string, dst *string) {
		if v := form.Get(key); v != "" && v != Mask {
			*dst = v
		}
	}

	if form.Has("speed0") {
		c.BaudRates[1] = parseBaud(form.Get("speed0"))
	}
	if form.Has("speed_tty0") {
		c.BaudRates[0] = parseBaud(form.Get("speed_tty0"))
	}

	set("ssid", &c.SSID)
	secret("password", &c.Password)

	if v := strings.TrimSpace(form.Get("device")); v != "" {
		c.DeviceName = v
		c.Topics = DeriveTopics(v)
	}

	set("broker", &c.MQTTBroker)
	if v := form.Get("port"); v != "" {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && p > 0 && p <= 65535 {
			c.MQTTPort = p
		}
	}
	set("user", &c.MQTTUser)
	secret("mqttpass", &c.MQTTPassword)

	set("web_user", &c.WebUser)
	secret("web_password", &c.WebPassword)
}

func parseBaud(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 1 {
		return DefaultBaudRate
	}
	return n
}
