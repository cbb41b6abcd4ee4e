package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the flags; keys use the flag name with dashes turned
// into underscores.
type fileConfig struct {
	Mode               string `toml:"mode"`
	File               string `toml:"file"`
	Serial             string `toml:"serial"`
	Baud               int    `toml:"baud"`
	Parity             string `toml:"parity"`
	SerialReadTimeout  string `toml:"serial_read_timeout"`
	Listen             string `toml:"listen"`
	Connect            string `toml:"connect"`
	Packet             string `toml:"packet"`
	Checksum           string `toml:"checksum"`
	MaxRetries         int    `toml:"max_retries"`
	MaxRetransmissions int    `toml:"max_retransmissions"`
	Timeout            string `toml:"timeout"`
	RingSize           int    `toml:"ring_size"`
	StartCommand       string `toml:"start_command"`
	LogFormat          string `toml:"log_format"`
	LogLevel           string `toml:"log_level"`
	MetricsAddr        string `toml:"metrics_addr"`
	LogMetricsInterval string `toml:"log_metrics_interval"`
	MDNSEnable         bool   `toml:"mdns_enable"`
	MDNSName           string `toml:"mdns_name"`
}

// applyFileConfig loads path and copies every defined key whose flag was not
// given on the command line.
func applyFileConfig(c *appConfig, path string, set map[string]struct{}) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undec[0].String())
	}
	use := func(key string) bool {
		if _, ok := set[strings.ReplaceAll(key, "_", "-")]; ok {
			return false
		}
		return meta.IsDefined(key)
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !use(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	if use("mode") {
		c.mode = strings.TrimSpace(raw.Mode)
	}
	if use("file") {
		c.file = strings.TrimSpace(raw.File)
	}
	if use("serial") {
		c.serialDev = strings.TrimSpace(raw.Serial)
	}
	if use("baud") {
		c.baud = raw.Baud
	}
	if use("parity") {
		c.parity = strings.TrimSpace(raw.Parity)
	}
	if err := dur("serial_read_timeout", raw.SerialReadTimeout, &c.serialReadTO); err != nil {
		return err
	}
	if use("listen") {
		c.listenAddr = strings.TrimSpace(raw.Listen)
	}
	if use("connect") {
		c.connectAddr = strings.TrimSpace(raw.Connect)
	}
	if use("packet") {
		c.packet = strings.TrimSpace(raw.Packet)
	}
	if use("checksum") {
		c.checksum = strings.TrimSpace(raw.Checksum)
	}
	if use("max_retries") {
		c.maxRetries = raw.MaxRetries
	}
	if use("max_retransmissions") {
		c.maxRetrans = raw.MaxRetransmissions
	}
	if err := dur("timeout", raw.Timeout, &c.timeout); err != nil {
		return err
	}
	if use("ring_size") {
		c.ringSize = raw.RingSize
	}
	if use("start_command") {
		c.startCommand = raw.StartCommand
	}
	if use("log_format") {
		c.logFormat = strings.TrimSpace(raw.LogFormat)
	}
	if use("log_level") {
		c.logLevel = strings.TrimSpace(raw.LogLevel)
	}
	if use("metrics_addr") {
		c.metricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if err := dur("log_metrics_interval", raw.LogMetricsInterval, &c.logMetricsEvery); err != nil {
		return err
	}
	if use("mdns_enable") {
		c.mdnsEnable = raw.MDNSEnable
	}
	if use("mdns_name") {
		c.mdnsName = strings.TrimSpace(raw.MDNSName)
	}
	return nil
}
