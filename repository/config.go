package repository

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBranch       = "main"
	defaultRootSpecPath = "spec.md"
	defaultGitTimeout   = 30 * time.Second

	// MinAllowedInterval is the lowest accepted sync interval
	MinAllowedInterval = time.Second
)

// Config represents the config for one tracked documentation repository.
type Config struct {
	// Owner is the github user or organisation owning the repository
	Owner string `yaml:"owner"`

	// Repo is the repository name
	Repo string `yaml:"repo"`

	// Branch is the tracked branch, defaults to main
	Branch string `yaml:"branch"`

	// RootSpecPath is the repo relative path of the entry point document
	// advertised by list_doc, defaults to spec.md
	RootSpecPath string `yaml:"root_spec_path"`

	// Root is the absolute path to the cache root dir, the working
	// directory will be created at <root>/<owner>/<repo>/<branch>
	Root string `yaml:"root"`

	// Interval is time duration for how long to wait between syncs
	Interval time.Duration `yaml:"interval"`

	// GitTimeout is the base timeout for git subprocesses, clone and
	// fetch are allowed twice this duration
	GitTimeout time.Duration `yaml:"git_timeout"`

	// Auth config to fetch the remote repo
	Auth Auth `yaml:"auth"`
}

// Auth represents upstream authentication config of the repository
type Auth struct {
	// personal access token or installation token used for clone/fetch
	// and the description fetch
	Token string `yaml:"token"`

	// Github APP Details
	// The application id or the client ID of the Github app
	GithubAppID string `yaml:"github_app_id"`
	// The installation id of the app (in the organization).
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	// path to the github app private key
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// ValidateAndApplyDefaults validates the repository config and applies
// default values for the optional fields.
func (c *Config) ValidateAndApplyDefaults() error {
	if c.Owner == "" {
		return fmt.Errorf("repository owner cannot be empty")
	}
	if c.Repo == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if c.Branch == "" {
		c.Branch = defaultBranch
	}
	if c.RootSpecPath == "" {
		c.RootSpecPath = defaultRootSpecPath
	}
	c.RootSpecPath = strings.Trim(c.RootSpecPath, "/")

	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("cache root '%s' must be absolute", c.Root)
	}

	if c.Interval != 0 && c.Interval < MinAllowedInterval {
		return fmt.Errorf("provided interval between syncs is too short (%s), must be >= %s", c.Interval, MinAllowedInterval)
	}

	if c.GitTimeout == 0 {
		c.GitTimeout = defaultGitTimeout
	}

	if c.Auth.GithubAppID != "" || c.Auth.GithubAppInstallationID != "" || c.Auth.GithubAppPrivateKeyPath != "" {
		if c.Auth.GithubAppID == "" ||
			c.Auth.GithubAppInstallationID == "" ||
			c.Auth.GithubAppPrivateKeyPath == "" {
			return fmt.Errorf("github app auth requires app id, installation id and private key path")
		}
		if c.Auth.Token != "" {
			return fmt.Errorf("token and github app auth are mutually exclusive")
		}
	}

	return nil
}
