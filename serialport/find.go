package serialport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

var ErrNoMatch = errors.New("no matching serial port")

// Info describes a serial port found on the system.
type Info struct {
	Name         string
	SerialNumber string
	VID          string
	PID          string
	Product      string
}

// Matcher reports whether a port should be used.
type Matcher func(Info) bool

// MatchVIDPID returns a Matcher that returns true if the usb vendor and product IDs match.
func MatchVIDPID(vid, pid string) Matcher {
	return func(i Info) bool {
		return strings.EqualFold(i.VID, vid) && strings.EqualFold(i.PID, pid)
	}
}

// MatchName returns a Matcher for a device path.
func MatchName(name string) Matcher {
	return func(i Info) bool { return i.Name == name }
}

// List returns the USB serial ports currently attached.
func List() ([]Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	var res []Info
	for _, p := range ports {
		res = append(res, Info{
			Name:         p.Name,
			SerialNumber: p.SerialNumber,
			VID:          p.VID,
			PID:          p.PID,
			Product:      p.Product,
		})
	}
	return res, nil
}

// Find returns the name of the first port accepted by match.
func Find(match Matcher) (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	name, ok := first(ports, match)
	if !ok {
		return "", ErrNoMatch
	}
	return name, nil
}

func first(ports []Info, match Matcher) (string, bool) {
	for _, p := range ports {
		if match(p) {
			return p.Name, true
		}
	}
	return "", false
}
