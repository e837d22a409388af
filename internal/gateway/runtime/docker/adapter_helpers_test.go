package docker

import (
	"testing"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
)

func TestParseContainerState(t *testing.T) {
	cases := []struct {
		input string
		want  runtime.ContainerState
	}{
		{"running", runtime.StateRunning},
		{"RUNNING", runtime.StateRunning}, // case-insensitive
		{"stopped", runtime.StateStopped},
		{"exited", runtime.StateExited},
		{"created", runtime.StateCreated},
		{"paused", runtime.StatePaused},
		{"removing", runtime.StateRemoving},
		{"dead", runtime.StateUnknown},
		{"", runtime.StateUnknown},
		{"restarting", runtime.StateUnknown},
	}

	for _, tc := range cases {
		got := parseContainerState(tc.input)
		if got != tc.want {
			t.Errorf("parseContainerState(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
