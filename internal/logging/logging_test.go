package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogger_SetOutputWritesNewlineDelimitedJSON(t *testing.T) {
	l := &Logger{enabled: true}
	path := filepath.Join(t.TempDir(), "calls.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("set output: %v", err)
	}
	t.Cleanup(l.Close)

	l.Log(&CallLog{RequestID: "r1", Server: "echo", Method: "tools/call", DurationMs: 5, Success: true})
	l.Log(&CallLog{RequestID: "r2", Server: "echo", Method: "tools/call", DurationMs: 9, Success: false, Error: "boom"})
	l.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var entries []CallLog
	for scanner.Scan() {
		var entry CallLog
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].RequestID != "r1" || !entries[0].Success {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].RequestID != "r2" || entries[1].Success || entries[1].Error != "boom" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestLogger_DisabledSuppressesOutput(t *testing.T) {
	l := &Logger{enabled: false}
	path := filepath.Join(t.TempDir(), "calls.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("set output: %v", err)
	}
	t.Cleanup(l.Close)

	l.Log(&CallLog{RequestID: "r1"})
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no output while disabled, got %q", data)
	}
}

func TestSetLevelFromString_RecognizesEveryLevel(t *testing.T) {
	defer SetLevelFromString("info")

	SetLevelFromString("debug")
	if logLevel.Level().String() != "DEBUG" {
		t.Fatalf("expected DEBUG level, got %v", logLevel.Level())
	}
	SetLevelFromString("info")
	if logLevel.Level().String() != "INFO" {
		t.Fatalf("expected INFO level, got %v", logLevel.Level())
	}
	SetLevelFromString("warn")
	if logLevel.Level().String() != "WARN" {
		t.Fatalf("expected WARN level, got %v", logLevel.Level())
	}
	SetLevelFromString("error")
	if logLevel.Level().String() != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", logLevel.Level())
	}
}

func TestInitStructured_SwitchesHandlerFormat(t *testing.T) {
	defer InitStructured("text", "info", true)

	InitStructured("json", "debug", true)
	if Op() == nil {
		t.Fatal("expected a non-nil operational logger after InitStructured")
	}
}

func TestOpWithTrace_OmitsFieldsWhenDisabled(t *testing.T) {
	defer InitStructured("text", "info", true)

	InitStructured("text", "info", false)
	if l := OpWithTrace("trace-1", "span-1"); l != Op() {
		t.Fatal("expected OpWithTrace to return the bare operational logger when include_trace_id is false")
	}

	InitStructured("text", "info", true)
	if l := OpWithTrace("trace-1", "span-1"); l == Op() {
		t.Fatal("expected OpWithTrace to return a decorated logger when include_trace_id is true")
	}
	if l := OpWithTrace("", "span-1"); l != Op() {
		t.Fatal("expected OpWithTrace to return the bare logger when traceID is empty")
	}
}
