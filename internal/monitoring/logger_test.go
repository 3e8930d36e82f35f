package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestTagged(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	logf := Tagged("stream")
	logf("opened %s", "cam0")
	if got != "[stream] opened cam0" {
		t.Errorf("got %q, want %q", got, "[stream] opened cam0")
	}

	// Tagged loggers follow later SetLogger calls.
	got = ""
	SetLogger(nil)
	logf("dropped")
	if got != "" {
		t.Errorf("expected muted logger, got %q", got)
	}
}
