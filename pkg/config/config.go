// Package config loads the YAML policy file consumed by the publisher and
// reconciler: per-(campaign, package) publication policy plus the
// collaborative-maintenance namespace list used by the attempt-push
// override (spec.md §4.2).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/threatcode/janitor/pkg/model"
)

// Config is the top-level policy file structure.
type Config struct {
	// Namespaces lists URL substrings identifying collaborative-maintenance
	// main branches. When a package's main branch URL contains one of
	// these, attempt-push degrades to propose regardless of policy.
	Namespaces []string `yaml:"namespaces"`

	Campaigns map[string]CampaignConfig `yaml:"campaigns"`
}

// CampaignConfig carries one campaign's defaults and its per-package policy
// overrides.
type CampaignConfig struct {
	BranchName string                  `yaml:"branch-name"`
	Default    PolicyDefaults          `yaml:"default"`
	Packages   map[string]PolicyEntry `yaml:"packages"`
}

// PolicyDefaults are inherited by every package entry that doesn't set its
// own value, the same way the teacher's RepoDefaults are inherited by
// RepoConfig.
type PolicyDefaults struct {
	Mode            string `yaml:"mode"`
	UpdateChangelog *bool  `yaml:"update-changelog"`
	Committer       string `yaml:"committer"`
}

// PolicyEntry is one package's policy override within a campaign.
type PolicyEntry struct {
	Mode            string `yaml:"mode"`
	UpdateChangelog *bool  `yaml:"update-changelog"`
	Committer       string `yaml:"committer"`
}

// LoadFromFile reads and validates a policy YAML file, applying campaign
// defaults to every package entry that doesn't override them.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply policy defaults: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset package-entry fields from their campaign's
// defaults and validates the result.
func (c *Config) ApplyDefaults() error {
	for name, campaign := range c.Campaigns {
		for pkgName, entry := range campaign.Packages {
			if entry.Mode == "" {
				entry.Mode = campaign.Default.Mode
			}
			if entry.UpdateChangelog == nil {
				entry.UpdateChangelog = campaign.Default.UpdateChangelog
			}
			if entry.Committer == "" {
				entry.Committer = campaign.Default.Committer
			}

			if entry.Mode == "" {
				return fmt.Errorf("campaign %s: package %s missing required field 'mode'", name, pkgName)
			}
			if !validMode(entry.Mode) {
				return fmt.Errorf("campaign %s: package %s has unknown mode %q", name, pkgName, entry.Mode)
			}

			campaign.Packages[pkgName] = entry
		}
		c.Campaigns[name] = campaign
	}

	if len(c.Namespaces) == 0 {
		// The original always checks salsa.debian.org/debian/; keep it as
		// the shipped default when the operator configures none.
		c.Namespaces = []string{"salsa.debian.org/debian/"}
	}

	return nil
}

func validMode(m string) bool {
	switch model.PublicationMode(m) {
	case model.ModeSkip, model.ModeBuildOnly, model.ModePush,
		model.ModePushDerived, model.ModePropose, model.ModeAttemptPush:
		return true
	}
	return false
}

// Lookup returns the resolved policy entry for (campaign, pkg), or false if
// neither the package nor the campaign default configures one.
func (c *Config) Lookup(campaign, pkg string) (PolicyEntry, bool) {
	camp, ok := c.Campaigns[campaign]
	if !ok {
		return PolicyEntry{}, false
	}
	if entry, ok := camp.Packages[pkg]; ok {
		return entry, true
	}
	if camp.Default.Mode == "" {
		return PolicyEntry{}, false
	}
	return PolicyEntry{
		Mode:            camp.Default.Mode,
		UpdateChangelog: camp.Default.UpdateChangelog,
		Committer:       camp.Default.Committer,
	}, true
}

// IsCollabMaintained reports whether mainBranchURL falls under one of the
// configured collaborative-maintenance namespaces.
func (c *Config) IsCollabMaintained(mainBranchURL string) bool {
	for _, ns := range c.Namespaces {
		if strings.Contains(mainBranchURL, ns) {
			return true
		}
	}
	return false
}

// BranchName returns the push-to branch name configured for campaign, or
// the campaign name itself if none was set.
func (c *Config) BranchName(campaign string) string {
	if camp, ok := c.Campaigns[campaign]; ok && camp.BranchName != "" {
		return camp.BranchName
	}
	return campaign
}
