package serial

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo is one entry of List.
type PortInfo struct {
	Name   string
	USB    bool
	VID    string
	PID    string
	Serial string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	s := fmt.Sprintf("%s usb %s:%s", p.Name, p.VID, p.PID)
	if p.Serial != "" {
		s += " serial=" + p.Serial
	}
	return s
}

var detailedPorts = enumerator.GetDetailedPortsList

// List enumerates serial ports present on the host, sorted by name.
func List() ([]PortInfo, error) {
	details, err := detailedPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		out = append(out, PortInfo{
			Name:   d.Name,
			USB:    d.IsUSB,
			VID:    d.VID,
			PID:    d.PID,
			Serial: d.SerialNumber,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
