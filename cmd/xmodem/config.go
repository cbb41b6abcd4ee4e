package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-xmodem/internal/serial"
	"github.com/kstaniek/go-xmodem/internal/xmodem"
)

type appConfig struct {
	mode            string
	file            string
	serialDev       string
	baud            int
	parity          string
	serialReadTO    time.Duration
	listenAddr      string
	connectAddr     string
	packet          string
	checksum        string
	maxRetries      int
	maxRetrans      int
	timeout         time.Duration
	ringSize        int
	startCommand    string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	configFile      string
	listPorts       bool
}

func defaultConfig() *appConfig {
	d := xmodem.DefaultOptions()
	return &appConfig{
		baud:         115200,
		parity:       "none",
		serialReadTO: 50 * time.Millisecond,
		packet:       d.PacketSize.String(),
		checksum:     d.Mode.String(),
		maxRetries:   d.MaxRetries,
		maxRetrans:   d.MaxRetransmissions,
		timeout:      d.Timeout,
		ringSize:     8192,
		logFormat:    "text",
		logLevel:     "info",
	}
}

// parseFlags builds the configuration from args. Precedence: explicit flag,
// then XMODEM_* environment, then the TOML file, then built-in defaults.
func parseFlags(args []string) (*appConfig, bool, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("xmodem", flag.ContinueOnError)
	fs.StringVar(&cfg.mode, "mode", "", "Transfer direction: send|receive")
	fs.StringVar(&cfg.file, "file", "", "File to send, or file to write when receiving")
	fs.StringVar(&cfg.serialDev, "serial", "", "Serial device path (e.g., /dev/ttyUSB0)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.StringVar(&cfg.parity, "parity", cfg.parity, "Serial parity: none|odd|even")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.listenAddr, "listen", "", "Accept one TCP peer on this address (e.g., :20000)")
	fs.StringVar(&cfg.connectAddr, "connect", "", "Connect to a TCP peer at host:port")
	fs.StringVar(&cfg.packet, "packet", cfg.packet, "Packet size: 128|1k")
	fs.StringVar(&cfg.checksum, "checksum", cfg.checksum, "Trailer mode: auto|crc|sum")
	fs.IntVar(&cfg.maxRetries, "max-retries", cfg.maxRetries, "Negotiation and EOT attempts")
	fs.IntVar(&cfg.maxRetrans, "max-retransmissions", cfg.maxRetrans, "Consecutive rejected frames before giving up")
	fs.DurationVar(&cfg.timeout, "timeout", cfg.timeout, "Per-byte and per-frame timeout")
	fs.IntVar(&cfg.ringSize, "ring-size", cfg.ringSize, "Inbound ring buffer capacity (power of two)")
	fs.StringVar(&cfg.startCommand, "start-command", "", `Command written to the transport before the session (Go escapes, e.g. "<xmodem r FILE\r")`)
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the -listen port via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default xmodem-<hostname>)")
	fs.StringVar(&cfg.configFile, "config", "", "TOML file with defaults for any flag")
	fs.BoolVar(&cfg.listPorts, "list-ports", false, "List serial ports and exit")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion || cfg.listPorts {
		return cfg, *showVersion, nil
	}

	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	path := cfg.configFile
	if _, ok := setFlags["config"]; !ok {
		if v, ok := os.LookupEnv("XMODEM_CONFIG"); ok && strings.TrimSpace(v) != "" {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		if err := applyFileConfig(cfg, path, setFlags); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.mode {
	case "send", "receive":
	default:
		return fmt.Errorf("invalid mode: %q (want send|receive)", c.mode)
	}
	if c.file == "" {
		return errors.New("file is required")
	}
	transports := 0
	for _, v := range []string{c.serialDev, c.listenAddr, c.connectAddr} {
		if v != "" {
			transports++
		}
	}
	if transports != 1 {
		return fmt.Errorf("exactly one of -serial, -listen, -connect is required (got %d)", transports)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if _, err := serial.ParseParity(c.parity); err != nil {
		return err
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	ps, err := xmodem.ParsePacketSize(c.packet)
	if err != nil {
		return err
	}
	if _, err := xmodem.ParseMode(c.checksum); err != nil {
		return err
	}
	if c.maxRetries <= 0 {
		return fmt.Errorf("max-retries must be > 0 (got %d)", c.maxRetries)
	}
	if c.maxRetrans <= 0 {
		return fmt.Errorf("max-retransmissions must be > 0 (got %d)", c.maxRetrans)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.ringSize < 2 || c.ringSize&(c.ringSize-1) != 0 {
		return fmt.Errorf("ring-size must be a power of two (got %d)", c.ringSize)
	}
	// The ring keeps one slot free and must hold a whole CRC frame.
	if minFrame := int(ps) + 5; c.ringSize-1 < minFrame {
		return fmt.Errorf("ring-size %d too small for %s packets", c.ringSize, ps)
	}
	if _, err := decodeStartCommand(c.startCommand); err != nil {
		return err
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.mdnsEnable && c.listenAddr == "" {
		return errors.New("mdns-enable requires -listen")
	}
	return nil
}

// protocolOptions converts the validated config into engine options.
func (c *appConfig) protocolOptions(l *slog.Logger) xmodem.Options {
	o := xmodem.DefaultOptions()
	o.PacketSize, _ = xmodem.ParsePacketSize(c.packet)
	o.Mode, _ = xmodem.ParseMode(c.checksum)
	o.MaxRetries = c.maxRetries
	o.MaxRetransmissions = c.maxRetrans
	o.Timeout = c.timeout
	o.Logger = l
	return o
}

// decodeStartCommand interprets Go escape sequences such as \r and \x1b.
func decodeStartCommand(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid start-command %q: %w", s, err)
	}
	return []byte(v), nil
}

// applyEnvOverrides maps XMODEM_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, dst *int) {
		if v, ok := get(flagName, key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				fail(key, err)
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				fail(key, err)
			}
		}
	}

	str("mode", "XMODEM_MODE", &c.mode)
	str("file", "XMODEM_FILE", &c.file)
	str("serial", "XMODEM_SERIAL", &c.serialDev)
	num("baud", "XMODEM_BAUD", &c.baud)
	str("parity", "XMODEM_PARITY", &c.parity)
	dur("serial-read-timeout", "XMODEM_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("listen", "XMODEM_LISTEN", &c.listenAddr)
	str("connect", "XMODEM_CONNECT", &c.connectAddr)
	str("packet", "XMODEM_PACKET", &c.packet)
	str("checksum", "XMODEM_CHECKSUM", &c.checksum)
	num("max-retries", "XMODEM_MAX_RETRIES", &c.maxRetries)
	num("max-retransmissions", "XMODEM_MAX_RETRANSMISSIONS", &c.maxRetrans)
	dur("timeout", "XMODEM_TIMEOUT", &c.timeout)
	num("ring-size", "XMODEM_RING_SIZE", &c.ringSize)
	str("start-command", "XMODEM_START_COMMAND", &c.startCommand)
	str("log-format", "XMODEM_LOG_FORMAT", &c.logFormat)
	str("log-level", "XMODEM_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "XMODEM_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	str("mdns-name", "XMODEM_MDNS_NAME", &c.mdnsName)
	// An empty XMODEM_METRICS disables the endpoint set by the file.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("XMODEM_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	if v, ok := get("mdns-enable", "XMODEM_MDNS_ENABLE"); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.mdnsEnable = true
		case "0", "false", "no", "off":
			c.mdnsEnable = false
		default:
			fail("XMODEM_MDNS_ENABLE", fmt.Errorf("not a boolean: %q", v))
		}
	}
	return firstErr
}
