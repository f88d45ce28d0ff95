package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, yamlBody string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0600))
	return path
}

const minimalYAML = `
adapters:
  vcs: git
  work_items: jira
  terminal: shell
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)

	assert.True(t, cfg.LivePolicy.DryRun)
	assert.False(t, cfg.LivePolicy.AllowPush)
	assert.Equal(t, 2*time.Hour, cfg.Claims.DefaultTimeout)
	assert.Equal(t, 3, cfg.Claims.MaxPerAgent)
	assert.Equal(t, 5, cfg.Claims.MaxPerSession)
	assert.Equal(t, 30*time.Minute, cfg.Claims.RenewalWindow)
	assert.True(t, cfg.Claims.AutoReleaseOnInactivity)
	assert.Equal(t, os.TempDir(), cfg.Workspace.Root)
	assert.Equal(t, "default", cfg.Policy.DefaultProfile)
	assert.Equal(t, 10*time.Minute, cfg.CommandTimeout)
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalYAML+`
live_policy:
  dry_run: false
  allow_push: true
claims:
  max_per_agent: 10
workspace:
  root: /var/tmp/orch
`))
	require.NoError(t, err)

	assert.False(t, cfg.LivePolicy.DryRun)
	assert.True(t, cfg.LivePolicy.AllowPush)
	assert.Equal(t, 10, cfg.Claims.MaxPerAgent)
	assert.Equal(t, "/var/tmp/orch", cfg.Workspace.Root)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("ORCH_LIVE_POLICY_ALLOW_PUSH", "true")
	cfg, err := Load(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)
	assert.True(t, cfg.LivePolicy.AllowPush)
}

func TestValidateRequiresAdapters(t *testing.T) {
	_, err := Load(writeConfigFile(t, "adapters:\n  vcs: git\n"))
	assert.Error(t, err)
}

func TestValidateDefaultProfileMustExistWhenProfilesSet(t *testing.T) {
	_, err := Load(writeConfigFile(t, minimalYAML+`
policy:
  default_profile: strict
  profiles:
    default:
      name: default
`))
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveClaimCaps(t *testing.T) {
	_, err := Load(writeConfigFile(t, minimalYAML+"claims:\n  max_per_agent: 0\n"))
	assert.Error(t, err)
}

func TestToClaimsConfig(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)

	claimsCfg := cfg.Claims.ToClaimsConfig()
	assert.Equal(t, cfg.Claims.DefaultTimeout, claimsCfg.DefaultClaimTimeout)
	assert.Equal(t, cfg.Claims.MaxPerAgent, claimsCfg.MaxConcurrentClaimsPerAgent)
}
