// Package config loads the orchestrator's process-wide configuration:
// adapter selection, policy profiles, live-policy toggles, claim manager
// tuning, and the workspace root.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ndls21/orchcore/internal/claims"
	"github.com/ndls21/orchcore/internal/contract"
	"github.com/spf13/viper"
)

// AdaptersConfig names the adapter implementation selected for each
// collaborator surface. Build is optional; the others are required for the
// orchestrator to be able to dispatch anything at all.
type AdaptersConfig struct {
	WorkItemsName string `mapstructure:"work_items" yaml:"work_items"`
	VCSName       string `mapstructure:"vcs" yaml:"vcs"`
	TerminalName  string `mapstructure:"terminal" yaml:"terminal"`
	BuildName     string `mapstructure:"build" yaml:"build"`
}

// PolicyConfig bundles the named policy profiles available to sessions and
// which one new sessions use when none is named explicitly.
type PolicyConfig struct {
	Profiles       map[string]contract.PolicyProfile `mapstructure:"profiles" yaml:"profiles"`
	DefaultProfile string                             `mapstructure:"default_profile" yaml:"default_profile"`
	GlobalLimits   contract.RateLimits                `mapstructure:"global_limits" yaml:"global_limits"`
}

// LivePolicyConfig gates whether the orchestrator is allowed to take
// real-world effect, independent of any one session's policy profile.
type LivePolicyConfig struct {
	DryRun    bool `mapstructure:"dry_run" yaml:"dry_run"`
	AllowPush bool `mapstructure:"allow_push" yaml:"allow_push"`
}

// ClaimsConfig mirrors claims.Config, decoded from the wire-friendly
// duration strings viper/mapstructure parse out of YAML/env.
type ClaimsConfig struct {
	DefaultTimeout          time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxPerAgent             int           `mapstructure:"max_per_agent" yaml:"max_per_agent"`
	MaxPerSession           int           `mapstructure:"max_per_session" yaml:"max_per_session"`
	RenewalWindow           time.Duration `mapstructure:"renewal_window" yaml:"renewal_window"`
	AutoReleaseOnInactivity bool          `mapstructure:"auto_release_on_inactivity" yaml:"auto_release_on_inactivity"`
}

// ToClaimsConfig converts to the claims package's native Config type.
func (c ClaimsConfig) ToClaimsConfig() claims.Config {
	return claims.Config{
		DefaultClaimTimeout:           c.DefaultTimeout,
		MaxConcurrentClaimsPerAgent:   c.MaxPerAgent,
		MaxConcurrentClaimsPerSession: c.MaxPerSession,
		RenewalWindow:                 c.RenewalWindow,
		AutoReleaseOnInactivity:       c.AutoReleaseOnInactivity,
	}
}

// WorkspaceConfig configures the workspace provider.
type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// Config is the orchestrator's full process configuration.
type Config struct {
	Adapters       AdaptersConfig   `mapstructure:"adapters" yaml:"adapters"`
	Policy         PolicyConfig     `mapstructure:"policy" yaml:"policy"`
	LivePolicy     LivePolicyConfig `mapstructure:"live_policy" yaml:"live_policy"`
	Claims         ClaimsConfig     `mapstructure:"claims" yaml:"claims"`
	Workspace      WorkspaceConfig  `mapstructure:"workspace" yaml:"workspace"`
	CommandTimeout time.Duration    `mapstructure:"command_timeout" yaml:"command_timeout"`
	PersistDir     string           `mapstructure:"persist_dir" yaml:"persist_dir"`

	// ReceiptsEnabled turns on a per-command JSON receipt trail written into
	// each session's own workspace under "receipts/", alongside its
	// artifact-available event (see internal/receipts).
	ReceiptsEnabled bool `mapstructure:"receipts_enabled" yaml:"receipts_enabled"`
}

// applyDefaults fills in every value spec.md §6 specifies a default for.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("live_policy.dry_run", true)
	v.SetDefault("live_policy.allow_push", false)

	d := claims.DefaultConfig()
	v.SetDefault("claims.default_timeout", d.DefaultClaimTimeout)
	v.SetDefault("claims.max_per_agent", d.MaxConcurrentClaimsPerAgent)
	v.SetDefault("claims.max_per_session", d.MaxConcurrentClaimsPerSession)
	v.SetDefault("claims.renewal_window", d.RenewalWindow)
	v.SetDefault("claims.auto_release_on_inactivity", d.AutoReleaseOnInactivity)

	v.SetDefault("workspace.root", os.TempDir())
	v.SetDefault("policy.default_profile", "default")
	v.SetDefault("command_timeout", 10*time.Minute)
}

// Load reads configuration from configPath (if non-empty) plus any
// ORCH_-prefixed environment variable overrides, and returns the decoded,
// defaulted, validated Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for the errors an operator is most
// likely to make, with an actionable hint attached to each.
func (c *Config) Validate() error {
	if c.Adapters.VCSName == "" {
		return fmt.Errorf("configuration error: missing required field 'adapters.vcs'\n\nHint: name the vcs adapter to dispatch create-branch/commit/push/apply-patch/get-diff to:\n  adapters:\n    vcs: git")
	}
	if c.Adapters.WorkItemsName == "" {
		return fmt.Errorf("configuration error: missing required field 'adapters.work_items'\n\nHint: name the adapter to dispatch transition-ticket/comment/set-assignee/query-* to:\n  adapters:\n    work_items: jira")
	}
	if c.Adapters.TerminalName == "" {
		return fmt.Errorf("configuration error: missing required field 'adapters.terminal'\n\nHint: name the adapter to dispatch run-tests/build-project to:\n  adapters:\n    terminal: shell")
	}

	if c.Policy.DefaultProfile == "" {
		return fmt.Errorf("configuration error: 'policy.default_profile' cannot be empty")
	}
	if _, ok := c.Policy.Profiles[c.Policy.DefaultProfile]; len(c.Policy.Profiles) > 0 && !ok {
		return fmt.Errorf("configuration error: 'policy.default_profile' %q has no matching entry under 'policy.profiles'\n\nHint: add it:\n  policy:\n    profiles:\n      %s:\n        name: %s", c.Policy.DefaultProfile, c.Policy.DefaultProfile, c.Policy.DefaultProfile)
	}

	if c.Claims.MaxPerAgent <= 0 {
		return fmt.Errorf("configuration error: 'claims.max_per_agent' must be positive, got %d", c.Claims.MaxPerAgent)
	}
	if c.Claims.MaxPerSession <= 0 {
		return fmt.Errorf("configuration error: 'claims.max_per_session' must be positive, got %d", c.Claims.MaxPerSession)
	}

	return nil
}
