package sse

import (
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []Event {
	t.Helper()
	var events []Event
	err := Scan(strings.NewReader(input), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	return events
}

func TestScan_DataFrames(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	events := collect(t, input)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if string(events[0].Data) != `{"a":1}` {
		t.Errorf("first frame data = %q", events[0].Data)
	}
	if string(events[1].Data) != "[DONE]" {
		t.Errorf("second frame data = %q", events[1].Data)
	}
}

func TestScan_NamedEvents(t *testing.T) {
	input := "event: response.output_text.delta\ndata: {\"delta\":\"Hi\"}\n\n" +
		"event: response.completed\ndata: {}\n\n"
	events := collect(t, input)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name != "response.output_text.delta" {
		t.Errorf("first event name = %q", events[0].Name)
	}
	if events[1].Name != "response.completed" {
		t.Errorf("second event name = %q", events[1].Name)
	}
}

func TestScan_MultiLineData(t *testing.T) {
	input := "data: line one\ndata: line two\n\n"
	events := collect(t, input)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0].Data) != "line one\nline two" {
		t.Errorf("joined data = %q", events[0].Data)
	}
}

func TestScan_SkipsCommentsAndCRLF(t *testing.T) {
	input := ": keep-alive\r\ndata: hello\r\n\r\n"
	events := collect(t, input)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0].Data) != "hello" {
		t.Errorf("data = %q", events[0].Data)
	}
}

func TestScan_FlushesAtEOF(t *testing.T) {
	// No trailing blank line; the final frame must still be delivered.
	events := collect(t, "data: tail")

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0].Data) != "tail" {
		t.Errorf("data = %q", events[0].Data)
	}
}

func TestScan_CallbackErrorStopsScan(t *testing.T) {
	boom := errors.New("boom")
	count := 0
	err := Scan(strings.NewReader("data: a\n\ndata: b\n\n"), func(Event) error {
		count++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Scan error = %v, want %v", err, boom)
	}
	if count != 1 {
		t.Errorf("callback invoked %d times, want 1", count)
	}
}
