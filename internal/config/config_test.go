package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"STORE_DRIVER": "memory",
		"JWT_SECRET":   "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 168*time.Hour, cfg.Approval.Expiry)
	assert.Equal(t, "none", cfg.Approval.ManagerResolution)
	assert.Equal(t, "enforce", cfg.Authz.Mode)
	assert.Equal(t, "/login", cfg.Server.LoginPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{
			name:    "postgres without url",
			values:  map[string]any{"JWT_SECRET": "s"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "missing secret",
			values:  map[string]any{"STORE_DRIVER": "memory"},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "disabled authz without escape hatch",
			values:  map[string]any{"STORE_DRIVER": "memory", "JWT_SECRET": "s", "AUTHZ_MODE": "disabled"},
			wantErr: "AUTHZ_UNSAFE_ALLOW_DISABLED",
		},
		{
			name:    "unknown manager resolution",
			values:  map[string]any{"STORE_DRIVER": "memory", "JWT_SECRET": "s", "APPROVAL_MANAGER_RESOLUTION": "hr"},
			wantErr: "APPROVAL_MANAGER_RESOLUTION",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromViper(newViper(tt.values))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDisabledAuthzWithEscapeHatch(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"STORE_DRIVER":                "memory",
		"JWT_SECRET":                  "s",
		"AUTHZ_MODE":                  "disabled",
		"AUTHZ_UNSAFE_ALLOW_DISABLED": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "disabled", cfg.Authz.Mode)
}
