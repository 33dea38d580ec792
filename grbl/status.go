package grbl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/cncstream/machine"
)

// Status is a parsed `<...>` status report.
type Status struct {
	State           string
	MPos, WPos, WCO machine.Position

	Feed     float64
	Spindle  float64
	Pins     PinStatus
	Override struct {
		Feed, Rapid, Spindle float64
	}
	Accessory AccessoryStatus

	// PlannerFree and RXFree are only reported when enabled in $10.
	PlannerFree int
	RXFree      int
}

var _ machine.ControllerStatus = Status{}

type PinStatus struct{ X, Y, Z, P, D, H, R, S bool }
type AccessoryStatus struct {
	SpindleEnabled bool
	SpindleCCW     bool
	Flood          bool
	Mist           bool
}

func (st Status) IsAlarm() bool                     { return strings.HasPrefix(st.State, "Alarm") }
func (st Status) IsReady() bool                     { return st.State == "Idle" }
func (st Status) MachinePosition() machine.Position { return st.MPos }
func (st Status) WorkPosition() machine.Position    { return st.WPos }
func (st Status) StatusText() string                { return st.State }

// Parse updates st from a status report. Fields missing from the report keep
// their previous value, the work offset in particular is only sent every few
// reports.
func (st *Status) Parse(data string) error {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return fmt.Errorf("parse status %q: not a status report", data)
	}
	parts := strings.Split(strings.Trim(data, "<>"), "|")
	st.State = parts[0]
	st.Pins = PinStatus{}

	var useMPos bool
	for _, part := range parts[1:] {
		key, val, _ := strings.Cut(part, ":")

		var err error
		switch key {
		case "MPos":
			useMPos = true
			st.MPos, err = parsePosition(val)
		case "WPos":
			useMPos = false
			st.WPos, err = parsePosition(val)
		case "WCO":
			st.WCO, err = parsePosition(val)
		case "F":
			st.Feed, err = strconv.ParseFloat(val, 64)
		case "FS":
			var v []float64
			v, err = parseFloats(val, 2)
			if err == nil {
				st.Feed, st.Spindle = v[0], v[1]
			}
		case "Bf":
			var v []float64
			v, err = parseFloats(val, 2)
			if err == nil {
				st.PlannerFree, st.RXFree = int(v[0]), int(v[1])
			}
		case "Pn":
			st.Pins.parse(val)
		case "Ov":
			var v []float64
			v, err = parseFloats(val, 3)
			if err == nil {
				st.Override.Feed, st.Override.Rapid, st.Override.Spindle = v[0], v[1], v[2]
			}
		case "A":
			st.Accessory.SpindleEnabled = strings.ContainsAny(val, "SC")
			st.Accessory.SpindleCCW = strings.ContainsRune(val, 'C')
			st.Accessory.Flood = strings.ContainsRune(val, 'F')
			st.Accessory.Mist = strings.ContainsRune(val, 'M')
		}
		if err != nil {
			return fmt.Errorf("parse %s '%s': %w", key, val, err)
		}
	}

	if useMPos {
		st.WPos = sub(st.MPos, st.WCO)
	} else {
		st.MPos = add(st.WPos, st.WCO)
	}

	return nil
}

func (pins *PinStatus) parse(s string) {
	pins.X = strings.ContainsRune(s, 'X')
	pins.Y = strings.ContainsRune(s, 'Y')
	pins.Z = strings.ContainsRune(s, 'Z')
	pins.P = strings.ContainsRune(s, 'P')
	pins.D = strings.ContainsRune(s, 'D')
	pins.H = strings.ContainsRune(s, 'H')
	pins.R = strings.ContainsRune(s, 'R')
	pins.S = strings.ContainsRune(s, 'S')
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	v := make([]float64, n)
	for i := range v {
		var err error
		v[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func parsePosition(s string) (machine.Position, error) {
	v, err := parseFloats(s, 3)
	if err != nil {
		return machine.Position{}, err
	}
	return machine.Position{X: v[0], Y: v[1], Z: v[2]}, nil
}

func add(a, b machine.Position) machine.Position {
	return machine.Position{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func sub(a, b machine.Position) machine.Position {
	return machine.Position{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}
