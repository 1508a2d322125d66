package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected *Config
		name     string
		args     []string
	}{
		{
			name: "all flags set",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret",
				"-t", "5", "-r", "48",
			},
			expected: &Config{
				EndpointAddrHTTP:             "127.0.0.1:9090",
				DatabaseDSN:                  "db",
				SecretKey:                    "secret",
				AccessTokenValidityDuration:  5 * time.Minute,
				RefreshTokenValidityDuration: 48 * time.Hour,
			},
		},
		{
			name: "unknown flags ignored",
			args: []string{"cmd", "-a", "host:1", "-z", "nope"},
			expected: &Config{
				EndpointAddrHTTP: "host:1",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			os.Args = tt.args

			config := &Config{}
			require.NotPanics(t, func() { parseFlags(config) })

			assert.Equal(t, tt.expected.EndpointAddrHTTP, config.EndpointAddrHTTP)
			assert.Equal(t, tt.expected.DatabaseDSN, config.DatabaseDSN)
			assert.Equal(t, tt.expected.SecretKey, config.SecretKey)
			assert.Equal(t, tt.expected.AccessTokenValidityDuration, config.AccessTokenValidityDuration)
			assert.Equal(t, tt.expected.RefreshTokenValidityDuration, config.RefreshTokenValidityDuration)
		})
	}
}
