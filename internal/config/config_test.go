package config

import (
	"net/url"
	"path/filepath"
	"testing"
)

func TestDeriveTopics(t *testing.T) {
	got := DeriveTopics("bridge1")
	want := Topics{
		Tty0Rx: "wifi_serial/bridge1/ttyS0/rx",
		Tty0Tx: "wifi_serial/bridge1/ttyS0/tx",
		Tty1Rx: "wifi_serial/bridge1/ttyS1/rx",
		Tty1Tx: "wifi_serial/bridge1/ttyS1/tx",
	}
	if got != want {
		t.Errorf("DeriveTopics(bridge1) = %+v, want %+v", got, want)
	}
}

func TestApplyFormSecrets(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"mask keeps stored", url.Values{"password": {Mask}}, "s3cret"},
		{"empty keeps stored", url.Values{"password": {""}}, "s3cret"},
		{"absent keeps stored", url.Values{}, "s3cret"},
		{"new value replaces", url.Values{"password": {"other"}}, "other"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Password = "s3cret"
			c.MQTTPassword = "s3cret"
			c.WebPassword = "s3cret"
			c.ApplyForm(tc.form)
			if c.Password != tc.want {
				t.Errorf("Password = %q, want %q", c.Password, tc.want)
			}
			if c.MQTTPassword != "s3cret" || c.WebPassword != "s3cret" {
				t.Errorf("unrelated secrets changed: mqtt=%q web=%q", c.MQTTPassword, c.WebPassword)
			}
		})
	}
}

func TestApplyFormMaskedSecretsAllFields(t *testing.T) {
	c := Default()
	c.Password, c.MQTTPassword, c.WebPassword = "wifi", "mqtt", "web"
	c.ApplyForm(url.Values{
		"password":     {Mask},
		"mqttpass":     {Mask},
		"web_password": {""},
		"ssid":         {"home"},
	})
	if c.Password != "wifi" || c.MQTTPassword != "mqtt" || c.WebPassword != "web" {
		t.Errorf("secrets = %q/%q/%q, want wifi/mqtt/web", c.Password, c.MQTTPassword, c.WebPassword)
	}
	if c.SSID != "home" {
		t.Errorf("SSID = %q, want home", c.SSID)
	}
}

func TestApplyFormBaud(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"9600", 9600},
		{"1", DefaultBaudRate},
		{"0", DefaultBaudRate},
		{"-5", DefaultBaudRate},
		{"fast", DefaultBaudRate},
	}
	for _, tc := range tests {
		c := Default()
		c.ApplyForm(url.Values{"speed0": {tc.in}})
		if c.BaudRates[1] != tc.want {
			t.Errorf("speed0=%q: BaudRates[1] = %d, want %d", tc.in, c.BaudRates[1], tc.want)
		}
	}
}

func TestApplyFormDeviceRegeneratesTopics(t *testing.T) {
	c := Default()
	c.ApplyForm(url.Values{"device": {"lab"}, "port": {"8883"}, "broker": {"mqtt.local"}})
	if c.DeviceName != "lab" {
		t.Fatalf("DeviceName = %q, want lab", c.DeviceName)
	}
	if c.Topics.Tty1Tx != "wifi_serial/lab/ttyS1/tx" {
		t.Errorf("Tty1Tx = %q", c.Topics.Tty1Tx)
	}
	if c.MQTTPort != 8883 || c.MQTTBroker != "mqtt.local" {
		t.Errorf("mqtt = %s:%d", c.MQTTBroker, c.MQTTPort)
	}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "device.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := s.Get().DeviceName; got != DefaultDeviceName {
		t.Errorf("fresh DeviceName = %q, want %q", got, DefaultDeviceName)
	}
	if _, err := s.Update(func(c *Config) error {
		c.ApplyForm(url.Values{"device": {"attic"}, "web_password": {"pw"}})
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	again, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := again.Get()
	if got.DeviceName != "attic" || got.WebPassword != "pw" {
		t.Errorf("reloaded = %+v", got)
	}
	if got.Topics.Tty0Rx != "wifi_serial/attic/ttyS0/rx" {
		t.Errorf("reloaded topic = %q", got.Topics.Tty0Rx)
	}
}
