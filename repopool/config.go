package repopool

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/remotedoc/gateway/repository"
)

const (
	defaultCacheDirName = ".github_cache"
	defaultMaxWorkers   = 5
)

// Config is the configuration to create the repository pool
type Config struct {
	// default config for all the repositories if not set
	Defaults DefaultConfig `yaml:"defaults"`
	// List of tracked repositories.
	Repositories []repository.Config `yaml:"repositories"`
}

// DefaultConfig is the default config for repositories if not set at repo level
type DefaultConfig struct {
	// Root is the absolute path to the cache root dir where all working
	// directories will be created, defaults to <cwd>/.github_cache
	Root string `yaml:"root"`

	// Interval is time duration for how long to wait between syncs
	Interval time.Duration `yaml:"interval"`

	// GitTimeout is the base timeout for git subprocesses
	GitTimeout time.Duration `yaml:"git_timeout"`

	// MaxWorkers is the number of repositories synced in parallel on
	// startup, defaults to 5
	MaxWorkers int `yaml:"max_workers"`

	// Auth config to fetch remote repos
	Auth repository.Auth `yaml:"auth"`
}

// validateDefaults will verify default config
func (rpc *Config) validateDefaults() error {
	dc := rpc.Defaults

	var errs []error

	if dc.Root != "" {
		if !filepath.IsAbs(dc.Root) {
			errs = append(errs, fmt.Errorf("cache root '%s' must be absolute", dc.Root))
		}
	}

	if dc.Interval != 0 {
		if dc.Interval < repository.MinAllowedInterval {
			errs = append(errs, fmt.Errorf("provided interval between syncs is too short (%s), must be >= %s", dc.Interval, repository.MinAllowedInterval))
		}
	}

	if dc.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers cannot be negative"))
	}

	// if any of the github app config is set all should be set
	if dc.Auth.GithubAppID != "" ||
		dc.Auth.GithubAppInstallationID != "" ||
		dc.Auth.GithubAppPrivateKeyPath != "" {
		if dc.Auth.GithubAppID == "" ||
			dc.Auth.GithubAppInstallationID == "" ||
			dc.Auth.GithubAppPrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("all of the Github app attribute is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}

	return nil
}

// applyDefaults will add given default config to repository config where needed
func (rpc *Config) applyDefaults() error {
	if rpc.Defaults.Root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("unable to determine default cache root err:%w", err)
		}
		rpc.Defaults.Root = filepath.Join(cwd, defaultCacheDirName)
	}

	if rpc.Defaults.MaxWorkers == 0 {
		rpc.Defaults.MaxWorkers = defaultMaxWorkers
	}

	for i := range rpc.Repositories {
		repo := &rpc.Repositories[i]
		if repo.Root == "" {
			repo.Root = rpc.Defaults.Root
		}

		if repo.Interval == 0 {
			repo.Interval = rpc.Defaults.Interval
		}

		if repo.GitTimeout == 0 {
			repo.GitTimeout = rpc.Defaults.GitTimeout
		}

		if (repo.Auth == repository.Auth{}) {
			repo.Auth = rpc.Defaults.Auth
		}
	}

	return nil
}

// ValidateAndApplyDefaults will validate the default config and apply defaults
// to the repository configs. Per repository validation happens on creation.
func (conf *Config) ValidateAndApplyDefaults() error {
	if err := conf.validateDefaults(); err != nil {
		return err
	}

	return conf.applyDefaults()
}
