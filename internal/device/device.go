package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports that no serial port matched the hardware family.
var ErrNotFound = errors.New("no robot controller found, check the USB connection")

// AmbiguousError reports several matching ports with nothing to pick one by.
type AmbiguousError struct {
	// Candidates are all the ports that matched, in discovery order.
	Candidates []Candidate
}

// Error implements the error interface.
func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d matching ports found (%s), specify the port explicitly",
		len(e.Candidates), portNames(e.Candidates))
}

// PortNotFoundError reports an explicitly requested port that is not among
// the discovered candidates.
type PortNotFoundError struct {
	// Port is the requested port name.
	Port string
	// Candidates are the ports that were actually discovered.
	Candidates []Candidate
}

// Error implements the error interface.
func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("port %s is not among the detected ports (%s)",
		e.Port, portNames(e.Candidates))
}

// Candidate is one serial port that looks like the target hardware.
type Candidate struct {
	// Port is the platform-specific port name, e.g. /dev/ttyUSB0 or COM3.
	Port string
	// VID is the USB vendor ID as four uppercase hex digits, if known.
	VID string
	// PID is the USB product ID as four uppercase hex digits, if known.
	PID string
	// Description is a human-readable device name, if the port reports one.
	Description string
}

// String renders the candidate the way it appears in listings and errors.
func (c Candidate) String() string {
	description := c.Description
	if description == "" {
		description = "unknown device"
	}

	if c.VID != "" && c.PID != "" {
		return fmt.Sprintf("%s (%s, %s:%s)", c.Port, description, c.VID, c.PID)
	}

	return fmt.Sprintf("%s (%s)", c.Port, description)
}

// Resolve picks the port a run should flash. The policy is deterministic:
// zero candidates fail with ErrNotFound regardless of any override; a single
// candidate is used as-is, but an override that names a different port fails
// with PortNotFoundError; with several candidates the override must name one
// of them, and without an override the run fails with AmbiguousError rather
// than guessing.
func Resolve(candidates []Candidate, override string) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNotFound
	}

	if override != "" {
		for _, candidate := range candidates {
			if candidate.Port == override {
				return candidate, nil
			}
		}

		return Candidate{}, &PortNotFoundError{Port: override, Candidates: candidates}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	return Candidate{}, &AmbiguousError{Candidates: candidates}
}

// portNames renders candidate port names for error messages.
func portNames(candidates []Candidate) string {
	names := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		names = append(names, candidate.Port)
	}

	return strings.Join(names, ", ")
}
