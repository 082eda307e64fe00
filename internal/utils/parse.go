package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// Lenient returns data unchanged when it is valid JSON, otherwise it attempts
// a repair. Browser-exported archives are frequently truncated or carry
// trailing commas. When the repair library gives up, the input is cut back to
// its last complete element and the open containers are closed.
func Lenient(data []byte) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr == nil && json.Valid([]byte(repaired)) {
		return []byte(repaired), nil
	}
	if closed, ok := closeTruncated(data); ok {
		return closed, nil
	}
	if repairErr == nil {
		repairErr = errors.New("repaired output is not valid JSON")
	}
	return nil, fmt.Errorf("failed to repair JSON: %w", repairErr)
}

// closeTruncated keeps data up to the last point where an array element or
// object member was complete and appends the closers still open there.
func closeTruncated(data []byte) ([]byte, bool) {
	var (
		open     []byte
		cut      = -1
		cutOpen  []byte
		inString bool
		escaped  bool
	)
	mark := func(pos int) {
		cut = pos
		cutOpen = append(cutOpen[:0], open...)
	}

	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			open = append(open, '}')
		case '[':
			open = append(open, ']')
		case '}', ']':
			if len(open) == 0 || open[len(open)-1] != c {
				return nil, false
			}
			open = open[:len(open)-1]
			mark(i + 1)
		case ',':
			if len(open) > 0 {
				mark(i)
			}
		}
	}
	if cut < 0 {
		return nil, false
	}

	closed := make([]byte, 0, cut+len(cutOpen))
	closed = append(closed, data[:cut]...)
	for i := len(cutOpen) - 1; i >= 0; i-- {
		closed = append(closed, cutOpen[i])
	}
	if !json.Valid(closed) {
		return nil, false
	}
	return closed, true
}
