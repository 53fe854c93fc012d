package chatstream

import "fmt"

// ParseError is returned when a stream payload cannot be decoded. Incomplete
// is set when the payload is a valid prefix of a JSON value, meaning more
// bytes are expected from the network.
type ParseError struct {
	Payload    string
	Incomplete bool
	Err        error
}

func (e *ParseError) Error() string {
	if e.Incomplete {
		return fmt.Sprintf("incomplete stream payload: %v", e.Err)
	}
	return fmt.Sprintf("malformed stream payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
