package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("", false)
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, m)

	m, err = ParseMode(" Shadow ", false)
	require.NoError(t, err)
	assert.Equal(t, ModeShadow, m)

	_, err = ParseMode("disabled", false)
	assert.Error(t, err)

	m, err = ParseMode("disabled", true)
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, m)

	_, err = ParseMode("audit", true)
	assert.Error(t, err)
}

func TestDefaultPolicy(t *testing.T) {
	a, err := NewAuthorizer("", "", ModeEnforce)
	require.NoError(t, err)

	tests := []struct {
		roles  []string
		object string
		action string
		want   bool
	}{
		{[]string{"organisation_admin"}, ObjectApprovalRules, ActionWrite, true},
		{[]string{"superadmin"}, ObjectApprovalRules, ActionWrite, true},
		{[]string{"staff"}, ObjectApprovalRules, ActionRead, true},
		{[]string{"staff"}, ObjectApprovalRules, ActionWrite, false},
		{[]string{"staff", "organisation_admin"}, ObjectOrganisation, ActionAdmin, true},
		{nil, ObjectApprovalRules, ActionRead, false},
		{[]string{"finance"}, ObjectApprovalRules, ActionRead, false},
	}
	for _, tt := range tests {
		allowed, enforced, err := a.Authorize(tt.roles, tt.object, tt.action)
		require.NoError(t, err)
		assert.True(t, enforced)
		assert.Equal(t, tt.want, allowed, "%v %s %s", tt.roles, tt.object, tt.action)
	}
}

func TestModes(t *testing.T) {
	shadow, err := NewAuthorizer("", "", ModeShadow)
	require.NoError(t, err)
	allowed, enforced, err := shadow.Authorize([]string{"staff"}, ObjectApprovalRules, ActionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, enforced)

	disabled, err := NewAuthorizer("", "", ModeDisabled)
	require.NoError(t, err)
	allowed, enforced, err = disabled.Authorize(nil, ObjectApprovalRules, ActionWrite)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.False(t, enforced)
}

func TestFilePolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte("p, role:legal, approval_rules, read\n"), 0o600))

	a, err := NewAuthorizer("", path, ModeEnforce)
	require.NoError(t, err)

	allowed, _, err := a.Authorize([]string{"legal"}, ObjectApprovalRules, ActionRead)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = a.Authorize([]string{"organisation_admin"}, ObjectApprovalRules, ActionRead)
	require.NoError(t, err)
	assert.False(t, allowed)
}
