package device

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/oshokin/robot-updater/internal/logger"
)

// knownBridges maps VID:PID pairs of the USB-to-serial bridges the robot
// controllers ship with to the bridge chip name.
var knownBridges = map[string]string{
	"10C4:EA60": "CP210x",
	"1A86:7523": "CH340",
	"0403:6001": "FTDI FT232R",
	"303A:1001": "Espressif USB",
}

// descriptionKeywords match ports that enumerate without usable VID/PID
// metadata, going by the reported product string instead.
var descriptionKeywords = []string{"esp32", "silicon labs", "cp210", "ch340", "ftdi"}

// Locator finds candidate devices attached to the host.
type Locator interface {
	// Discover enumerates serial ports and returns the ones that look like
	// the target hardware, sorted by port name.
	Discover(ctx context.Context) ([]Candidate, error)
}

// SerialLocator discovers candidates through the host's USB serial ports.
type SerialLocator struct{}

// NewSerialLocator returns a locator backed by the OS serial port list.
func NewSerialLocator() *SerialLocator {
	return &SerialLocator{}
}

// Discover implements Locator.
func (l *SerialLocator) Discover(ctx context.Context) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	candidates := make([]Candidate, 0, len(ports))

	for _, port := range ports {
		if !matches(port) {
			logger.DebugKV(ctx, "Skipping serial port",
				"port", port.Name,
				"product", port.Product)

			continue
		}

		candidate := newCandidate(port)

		logger.DebugKV(ctx, "Found candidate port",
			"port", candidate.Port,
			"description", candidate.Description)

		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Port < candidates[j].Port
	})

	return candidates, nil
}

// matches reports whether a port looks like the robot's USB bridge, either
// by its VID/PID pair or by a recognizable product string.
func matches(port *enumerator.PortDetails) bool {
	if port.IsUSB {
		if _, ok := knownBridges[bridgeKey(port)]; ok {
			return true
		}
	}

	product := strings.ToLower(port.Product)
	if product == "" {
		return false
	}

	for _, keyword := range descriptionKeywords {
		if strings.Contains(product, keyword) {
			return true
		}
	}

	return false
}

// newCandidate converts enumerator port details into a Candidate. Ports that
// report no product string get the bridge chip name as description.
func newCandidate(port *enumerator.PortDetails) Candidate {
	description := port.Product
	if description == "" {
		description = knownBridges[bridgeKey(port)]
	}

	return Candidate{
		Port:        port.Name,
		VID:         strings.ToUpper(port.VID),
		PID:         strings.ToUpper(port.PID),
		Description: description,
	}
}

// bridgeKey builds the VID:PID lookup key for a port.
func bridgeKey(port *enumerator.PortDetails) string {
	return strings.ToUpper(port.VID + ":" + port.PID)
}
