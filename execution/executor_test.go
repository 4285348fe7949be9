package execution

import (
	"testing"
)

func TestExecuteNormalExit(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "cat >/dev/null; exit 0"}, 0)
	res, err := e.Execute([]byte("hello"), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ExitedNormally || res.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %+v", res)
	}
}

func TestExecuteNonZeroExitCode(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "exit 7"}, 0)
	res, err := e.Execute(nil, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ExitedNormally || res.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %+v", res)
	}
}

func TestExecuteSignalDeath(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "kill -SEGV $$"}, 0)
	res, err := e.Execute(nil, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasSignal || res.ExitedNormally {
		t.Fatalf("expected a signal death, got %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "sleep 5"}, 0)
	res, err := e.Execute(nil, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut || res.Signal != SignalTimeout {
		t.Fatalf("expected timeout result, got %+v", res)
	}
}

func TestExecuteStdinDelivery(t *testing.T) {
	e := NewExecutor([]string{"/bin/cat"}, 0)
	res, err := e.Execute([]byte("round trip"), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stdout) != "round trip" {
		t.Fatalf("expected stdin echoed back, got %q", res.Stdout)
	}
}

func TestExecuteArgPlaceholderSubstitution(t *testing.T) {
	e := NewExecutor([]string{"/bin/cat", "@@"}, 0)
	res, err := e.Execute([]byte("from file"), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stdout) != "from file" {
		t.Fatalf("expected file contents echoed back, got %q", res.Stdout)
	}
}

func TestExecuteStderrCaptured(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "echo oops 1>&2"}, 0)
	res, err := e.Execute(nil, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stderr) != "oops\n" {
		t.Fatalf("expected stderr captured, got %q", res.Stderr)
	}
}

func TestUsesArgFileDetection(t *testing.T) {
	if !usesArgFile([]string{"target", "@@"}) {
		t.Fatal("expected @@ to be detected")
	}
	if usesArgFile([]string{"target", "-f", "input.bin"}) {
		t.Fatal("did not expect plain argv to be detected as arg-file mode")
	}
}

func TestExecuteAppliesExtraEnv(t *testing.T) {
	e := NewExecutor([]string{"/bin/sh", "-c", "echo \"$ASAN_OPTIONS\" 1>&2"}, 0)
	e.ExtraEnv = []string{"ASAN_OPTIONS=abort_on_error=1:detect_leaks=0"}
	res, err := e.Execute(nil, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stderr) != "abort_on_error=1:detect_leaks=0\n" {
		t.Fatalf("expected ExtraEnv propagated to the child, got %q", res.Stderr)
	}
}
