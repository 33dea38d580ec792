package stream

import "strings"

// ResponseKind classifies a recognized device response.
type ResponseKind int

const (
	// Ack reports that the oldest active command was consumed.
	Ack ResponseKind = iota + 1

	// Error reports that the oldest active command was consumed but rejected.
	Error

	// Reset reports that the device restarted and dropped its buffer.
	Reset
)

func (k ResponseKind) String() string {
	switch k {
	case Ack:
		return "ack"
	case Error:
		return "error"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Response is a recognized line from the device.
type Response struct {
	Kind ResponseKind
	Line string
}

// Err returns a *ResponseError for Error responses and nil otherwise.
func (r Response) Err() error {
	if r.Kind != Error {
		return nil
	}
	return &ResponseError{Line: r.Line}
}

// ResponseError is a command rejected by the device.
type ResponseError struct {
	Line string
}

func (e *ResponseError) Error() string { return "device responded: " + e.Line }

// A Recognizer picks the responses that retire active commands out of the
// inbound line stream. Lines it does not recognize are passed to observers
// untouched.
type Recognizer interface {
	Recognize(line string) (Response, bool)
}

// RecognizerFunc adapts a function to a Recognizer.
type RecognizerFunc func(line string) (Response, bool)

// Recognize calls fn(line).
func (fn RecognizerFunc) Recognize(line string) (Response, bool) { return fn(line) }

// OKRecognizer treats a literal `ok` line as an acknowledgment and any line
// starting with `error` as a rejection.
var OKRecognizer Recognizer = RecognizerFunc(func(line string) (Response, bool) {
	switch {
	case line == "ok":
		return Response{Kind: Ack, Line: line}, true
	case strings.HasPrefix(line, "error"):
		return Response{Kind: Error, Line: line}, true
	}
	return Response{}, false
})
