package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindEndpointAddress(t *testing.T) {
	tests := []struct {
		name string
		bind BindEndpoint
		want string
	}{
		{"ipv4", BindEndpoint{Host: "127.0.0.1", Port: 8080}, "127.0.0.1:8080"},
		{"bare ipv6", BindEndpoint{Host: "::1", Port: 8080}, "[::1]:8080"},
		{"bracketed ipv6", BindEndpoint{Host: "[::1]", Port: 8080}, "[::1]:8080"},
		{"hostname", BindEndpoint{Host: "localhost", Port: 0}, "localhost:0"},
		{"all interfaces", BindEndpoint{Host: "", Port: 9000}, ":9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bind.Address())
			assert.NoError(t, tt.bind.Validate())
		})
	}
}

func TestBindEndpointValidateRejectsBadPort(t *testing.T) {
	err := BindEndpoint{Host: "127.0.0.1", Port: 70000}.Validate()
	assert.ErrorIs(t, err, ErrInvalidBind)

	err = BindEndpoint{Host: "127.0.0.1", Port: -1}.Validate()
	assert.ErrorIs(t, err, ErrInvalidBind)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		remote  string
		want    Target
		wantErr bool
	}{
		{remote: "127.0.0.1:9001", want: Target{Host: "127.0.0.1", Port: "9001"}},
		{remote: "[::1]:443", want: Target{Host: "::1", Port: "443"}},
		{remote: "example.com:https", want: Target{Host: "example.com", Port: "https"}},
		{remote: "example.com", wantErr: true},
		{remote: ":9001", wantErr: true},
		{remote: "example.com:", wantErr: true},
		{remote: "example.com:0", wantErr: true},
		{remote: "example.com:65536", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			got, err := ParseTarget(tt.remote)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.remote, got.String())
		})
	}
}

func TestJoinTarget(t *testing.T) {
	assert.Equal(t, "example.com:9001", JoinTarget("example.com", 9001))
	assert.Equal(t, "[::1]:9001", JoinTarget("::1", 9001))
}
