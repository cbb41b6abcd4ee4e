package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	c := defaultConfig()
	c.mode = "send"
	c.file = "/tmp/x.bin"
	c.serialDev = "/dev/null"
	return c
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := validConfig()
	c.serialDev = ""
	c.listenAddr = ":0"
	c.mdnsEnable = true
	c.packet = "128"
	c.ringSize = 256
	if err := c.validate(); err != nil {
		t.Fatalf("listen config: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badMode", func(c *appConfig) { c.mode = "both" }},
		{"noFile", func(c *appConfig) { c.file = "" }},
		{"noTransport", func(c *appConfig) { c.serialDev = "" }},
		{"twoTransports", func(c *appConfig) { c.connectAddr = "host:1" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badParity", func(c *appConfig) { c.parity = "mark" }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badPacket", func(c *appConfig) { c.packet = "512" }},
		{"badChecksum", func(c *appConfig) { c.checksum = "md5" }},
		{"badRetries", func(c *appConfig) { c.maxRetries = 0 }},
		{"badRetrans", func(c *appConfig) { c.maxRetrans = -1 }},
		{"badTimeout", func(c *appConfig) { c.timeout = 0 }},
		{"ringNotPow2", func(c *appConfig) { c.ringSize = 3000 }},
		{"ringTooSmall", func(c *appConfig) { c.ringSize = 1024 }},
		{"badStartCommand", func(c *appConfig) { c.startCommand = `\q` }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badMetricsInterval", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
		{"mdnsWithoutListen", func(c *appConfig) { c.mdnsEnable = true }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestDecodeStartCommand(t *testing.T) {
	got, err := decodeStartCommand(`<xmodem r RADIO9.BIN\r`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "<xmodem r RADIO9.BIN\r" {
		t.Fatalf("got %q", got)
	}
	got, err = decodeStartCommand(`say "hi"`)
	if err != nil || string(got) != `say "hi"` {
		t.Fatalf("quotes: %q %v", got, err)
	}
	if got, err := decodeStartCommand(""); err != nil || got != nil {
		t.Fatalf("empty: %q %v", got, err)
	}
}

func TestProtocolOptions(t *testing.T) {
	c := validConfig()
	c.packet = "128"
	c.checksum = "sum"
	c.maxRetries = 3
	c.maxRetrans = 7
	c.timeout = 250 * time.Millisecond
	o := c.protocolOptions(nil)
	if o.PacketSize != 128 || o.Mode.String() != "sum" || o.MaxRetries != 3 || o.MaxRetransmissions != 7 || o.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected options %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("options invalid: %v", err)
	}
}

func TestParseFlags_VersionSkipsValidation(t *testing.T) {
	_, showVersion, err := parseFlags([]string{"-version"})
	if err != nil || !showVersion {
		t.Fatalf("got showVersion=%v err=%v", showVersion, err)
	}
	cfg, _, err := parseFlags([]string{"-list-ports"})
	if err != nil || !cfg.listPorts {
		t.Fatalf("list-ports: %+v %v", cfg, err)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	if _, _, err := parseFlags([]string{"-mode", "send", "-file", "x"}); err == nil {
		t.Fatalf("expected error without transport")
	}
}
