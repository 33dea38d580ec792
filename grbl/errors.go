package grbl

import (
	"fmt"
	"strconv"
	"strings"
)

// Error is an `error:N` response.
type Error struct {
	Code int
}

func (e *Error) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = "unknown error"
	}
	return fmt.Sprintf("grbl error %d: %s", e.Code, msg)
}

// ParseError parses an `error:N` line.
func ParseError(line string) (*Error, bool) {
	s, ok := strings.CutPrefix(strings.TrimSpace(line), "error:")
	if !ok {
		return nil, false
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return nil, false
	}
	return &Error{Code: code}, true
}

var errorMessages = map[int]string{
	1:  "expected command letter",
	2:  "bad number format",
	3:  "invalid statement",
	4:  "negative value",
	5:  "homing cycle not enabled",
	6:  "step pulse must be at least 3 usec",
	7:  "EEPROM read failed",
	8:  "command requires idle state",
	9:  "G-code locked out during alarm or jog",
	10: "soft limits require homing",
	11: "line overflow",
	12: "step rate exceeds 30kHz",
	13: "safety door opened",
	14: "build info or startup line too long",
	15: "jog target exceeds machine travel",
	16: "invalid jog command",
	17: "laser mode requires PWM output",
	20: "unsupported or invalid g-code command",
	21: "modal group violation",
	22: "undefined feed rate",
	23: "command requires an integer value",
	24: "more than one command requires axis words",
	25: "repeated g-code word",
	26: "no axis words found",
	27: "invalid line number",
	28: "missing required value word",
	29: "G59.x work coordinates not supported",
	30: "G53 requires G0 or G1",
	31: "unused axis words",
	32: "G2/G3 arc requires at least one in-plane axis word",
	33: "motion target is invalid",
	34: "arc radius value is invalid",
	35: "G2/G3 arc requires at least one in-plane offset word",
	36: "unused value words",
	37: "G43.1 requires tool length offset axis",
	38: "tool number exceeds maximum",
}
