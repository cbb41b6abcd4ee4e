package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_xmodem._tcp"

// registerMDNS is a hook for tests.
var registerMDNS = func(instance, service, domain string, port int, text []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("xmodem-%s", host)
}

func mdnsText(cfg *appConfig) []string {
	return []string{
		"mode=" + cfg.mode,
		"packet=" + cfg.packet,
		"checksum=" + cfg.checksum,
		"version=" + version,
		"commit=" + commit,
	}
}

// startMDNS registers the service via mDNS and returns the cleanup function
// that shuts it down. Cleanup is idempotent and is a no-op when disabled.
func startMDNS(cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	shutdown, err := registerMDNS(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsText(cfg))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	var once sync.Once
	return func() { once.Do(func() { shutdown(); time.Sleep(50 * time.Millisecond) }) }, nil
}
