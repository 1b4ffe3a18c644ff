package pv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame is the JSON message exchanged over the websocket transport. A
// request carries Op and Name (and Value for puts); the reply echoes ID and
// carries either Value or Error.
type Frame struct {
	ID    uint64   `json:"id"`
	Op    string   `json:"op,omitempty"`
	Name  string   `json:"name,omitempty"`
	Value *float64 `json:"value,omitempty"`
	Error string   `json:"error,omitempty"`
}

const (
	OpGet = "get"
	OpPut = "put"
)

// FormatValue renders a value for the text based transports.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseLineRequest parses "GET name" or "PUT name value".
func ParseLineRequest(line string) (op, name string, value float64, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", 0, errors.New("empty request")
	}
	switch strings.ToUpper(fields[0]) {
	case "GET":
		if len(fields) != 2 {
			return "", "", 0, fmt.Errorf("malformed GET: %q", line)
		}
		return OpGet, fields[1], 0, nil
	case "PUT":
		if len(fields) != 3 {
			return "", "", 0, fmt.Errorf("malformed PUT: %q", line)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return "", "", 0, fmt.Errorf("malformed PUT value %q: %w", fields[2], err)
		}
		return OpPut, fields[1], v, nil
	default:
		return "", "", 0, fmt.Errorf("unknown command %q", fields[0])
	}
}

// FormatLineReply renders the answer to a line request.
func FormatLineReply(value *float64, err error) string {
	if err != nil {
		return "ERR " + strings.ReplaceAll(err.Error(), "\n", " ") + "\n"
	}
	if value == nil {
		return "OK\n"
	}
	return "OK " + FormatValue(*value) + "\n"
}

// parseLineReply returns the value carried by an OK reply, or the device
// error of an ERR reply.
func parseLineReply(line string) (float64, bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK":
		return 0, false, nil
	case strings.HasPrefix(line, "OK "):
		v, err := strconv.ParseFloat(strings.TrimSpace(line[3:]), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: malformed reply %q", ErrUnreachable, line)
		}
		return v, true, nil
	case strings.HasPrefix(line, "ERR"):
		return 0, false, remoteError(strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return 0, false, fmt.Errorf("%w: malformed reply %q", ErrUnreachable, line)
	}
}

// remoteError turns an error message reported by the device side back into
// an error, keeping ErrUnknownVariable recognisable.
func remoteError(msg string) error {
	if strings.HasPrefix(msg, ErrUnknownVariable.Error()) {
		rest := strings.TrimPrefix(strings.TrimPrefix(msg, ErrUnknownVariable.Error()), ":")
		return fmt.Errorf("%w:%s", ErrUnknownVariable, rest)
	}
	return errors.New(msg)
}
