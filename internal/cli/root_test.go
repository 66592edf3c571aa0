package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// executeCommand runs a fresh command tree with args and captures output.
func executeCommand(args ...string) (stdout, stderr string, err error) {
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := executeCommand("version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if strings.TrimSpace(out) != "streamload "+version {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestRootCommand_Help(t *testing.T) {
	out, _, err := executeCommand()
	if err != nil {
		t.Fatalf("root returned error: %v", err)
	}
	for _, sub := range []string{"run", "probe", "sink", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output should list %q", sub)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitRunFailed},
		{"bad config", &ExitError{Code: ExitBadConfig, Err: errors.New("bad")}, ExitBadConfig},
		{"wrapped", errors.Join(errors.New("ctx"), &ExitError{Code: ExitBadConfig}), ExitBadConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner")
	err := &ExitError{Code: 2, Err: inner}
	if err.Error() != "inner" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("ExitError should unwrap to its cause")
	}
	if (&ExitError{Code: 3}).Error() != "exit status 3" {
		t.Error("ExitError without cause should report its code")
	}
}
