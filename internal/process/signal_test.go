package process

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"SIGTERM", syscall.SIGTERM},
		{"TERM", syscall.SIGTERM},
		{"sigkill", syscall.SIGKILL},
		{" int ", syscall.SIGINT},
		{"15", syscall.SIGTERM},
		{"9", syscall.SIGKILL},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSignal_Invalid(t *testing.T) {
	for _, in := range []string{"", "SIGBOGUS", "0", "-3", "999"} {
		_, err := ParseSignal(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGTERM", SignalName(syscall.SIGTERM))
	assert.Equal(t, "SIGKILL", SignalName(syscall.SIGKILL))
}
