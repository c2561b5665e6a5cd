package archiver

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var progressPattern = regexp.MustCompile(`\d+(?:\.\d+)?%`)

type ProgressParser interface {
	Parse(chunk string) (percent int, ok bool)
}

// PercentParser reports the last percentage found in a chunk. It keeps no
// state between chunks, so consecutive values may go backwards when the
// archiver reprints its progress line.
type PercentParser struct{}

func (PercentParser) Parse(chunk string) (int, bool) {
	return ParseProgress(chunk)
}

func ParseProgress(chunk string) (int, bool) {
	matches := progressPattern.FindAllString(chunk, -1)
	if len(matches) == 0 {
		return 0, false
	}

	// An overflowing value parses as +Inf with ErrRange and clamps to 100.
	value, err := strconv.ParseFloat(strings.TrimSuffix(matches[len(matches)-1], "%"), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}

	// Clamp before converting: int() of an out-of-range float is undefined.
	value = min(max(value, 0), 100)
	return int(value), true
}

// scanOutputChunks is a bufio.SplitFunc that breaks archiver output on
// newlines, carriage returns and backspaces. 7-Zip redraws its progress
// line with the latter two and never emits a newline until it finishes.
func scanOutputChunks(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n\b"); i >= 0 {
		if i == 0 {
			return 1, nil, nil
		}
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
