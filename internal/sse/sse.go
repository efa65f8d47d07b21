// Package sse implements a minimal reader for server-sent event streams.
// It handles the framing shared by the raw HTTP provider dialects: optional
// "event:" names, one or more "data:" lines per frame, comment lines, and
// blank-line frame boundaries.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single decoded SSE frame. Name is empty for bare data frames.
type Event struct {
	Name string
	Data []byte
}

// Scan reads frames from r and invokes fn for each complete frame.
// Multi-line data is joined with newlines per the SSE wire format.
// Scan returns the first error from fn, or a read error, or nil at EOF.
func Scan(r io.Reader, fn func(Event) error) error {
	reader := bufio.NewReader(r)
	var eventName string
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		err := fn(Event{Name: eventName, Data: []byte(payload)})
		eventName = ""
		dataLines = nil
		return err
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if fErr := flush(); fErr != nil {
				return fErr
			}
		case strings.HasPrefix(line, ":"):
			// comment line
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}

		if err == io.EOF {
			if fErr := flush(); fErr != nil {
				return fErr
			}
			return nil
		}
	}
}
