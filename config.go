package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/repopool"
	"github.com/remotedoc/gateway/repository"
)

// GatewayConfig is the config file shape of the gateway.
type GatewayConfig struct {
	// default config for all the repositories if not set
	Defaults repopool.DefaultConfig `yaml:"defaults"`

	// List of tracked documentation repositories.
	Repositories []repository.Config `yaml:"repositories"`

	// List of API keys and their repository binding sets.
	APIKeys []auth.KeyConfig `yaml:"api_keys"`

	// Webhook listener config.
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig is the config of the github webhook listener
type WebhookConfig struct {
	// Secret is the shared secret used to verify X-Hub-Signature-256,
	// verification is skipped when empty
	Secret string `yaml:"secret"`
}

// PoolConfig returns the repository pool part of the config.
func (c *GatewayConfig) PoolConfig() repopool.Config {
	return repopool.Config{
		Defaults:     c.Defaults,
		Repositories: c.Repositories,
	}
}

// ValidateRunMode rejects configs mixing the two sync triggers. Webhook
// driven sync requires every periodic interval to be unset, including
// the ones from the config file.
func (c *GatewayConfig) ValidateRunMode(enableWebhook bool) error {
	if !enableWebhook {
		return nil
	}

	if c.Defaults.Interval != 0 {
		return fmt.Errorf("webhook sync and defaults.interval are mutually exclusive")
	}
	for _, repo := range c.Repositories {
		if repo.Interval != 0 {
			return fmt.Errorf("webhook sync and repository interval are mutually exclusive (%s/%s)", repo.Owner, repo.Repo)
		}
	}

	return nil
}

func parseConfigFile(path string) (*GatewayConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfigKeys(yamlFile); err != nil {
		return nil, err
	}

	conf := &GatewayConfig{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	return conf, nil
}

// validateConfigKeys checks all config sections for unexpected keys so
// that a typo in the config file fails startup instead of being silently
// dropped by the yaml decoder.
func validateConfigKeys(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// repositories and api_keys sections are mandatory
	if _, ok := raw["repositories"]; !ok {
		return fmt.Errorf("repositories config section is missing")
	}

	if _, ok := raw["api_keys"]; !ok {
		return fmt.Errorf("api_keys config section is missing")
	}

	allowedTopLevel := getAllowedKeys(GatewayConfig{})
	if key := findUnexpectedKey(raw, allowedTopLevel); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	// check "defaults" section
	if defaultsMap, ok := raw["defaults"].(map[string]interface{}); ok {
		allowedDefaults := getAllowedKeys(repopool.DefaultConfig{})
		if key := findUnexpectedKey(defaultsMap, allowedDefaults); key != "" {
			return fmt.Errorf("unexpected key: .defaults.%v", key)
		}

		// check "auth" section in "defaults"
		if authMap, ok := defaultsMap["auth"].(map[string]interface{}); ok {
			allowedAuthKeys := getAllowedKeys(repository.Auth{})
			if key := findUnexpectedKey(authMap, allowedAuthKeys); key != "" {
				return fmt.Errorf("unexpected key: .defaults.auth.%v", key)
			}
		}
	}

	// check each repository in "repositories" section
	repos, ok := raw["repositories"].([]interface{})
	if !ok {
		return fmt.Errorf("repositories config section is not valid")
	}
	allowedRepoKeys := getAllowedKeys(repository.Config{})
	allowedAuthKeys := getAllowedKeys(repository.Auth{})
	for _, repoInterface := range repos {
		repoMap, ok := repoInterface.(map[string]interface{})
		if !ok {
			return fmt.Errorf("repositories config section is not valid")
		}

		if key := findUnexpectedKey(repoMap, allowedRepoKeys); key != "" {
			return fmt.Errorf("unexpected key: .repositories[%v].%v", repoMap["repo"], key)
		}

		if authMap, ok := repoMap["auth"].(map[string]interface{}); ok {
			if key := findUnexpectedKey(authMap, allowedAuthKeys); key != "" {
				return fmt.Errorf("unexpected key: .repositories[%v].auth.%v", repoMap["repo"], key)
			}
		}
	}

	// check each key in "api_keys" section
	keys, ok := raw["api_keys"].([]interface{})
	if !ok {
		return fmt.Errorf("api_keys config section is not valid")
	}
	allowedKeyKeys := getAllowedKeys(auth.KeyConfig{})
	allowedRefKeys := getAllowedKeys(auth.RepoRef{})
	for _, keyInterface := range keys {
		keyMap, ok := keyInterface.(map[string]interface{})
		if !ok {
			return fmt.Errorf("api_keys config section is not valid")
		}

		if key := findUnexpectedKey(keyMap, allowedKeyKeys); key != "" {
			return fmt.Errorf("unexpected key: .api_keys[%v].%v", keyMap["name"], key)
		}

		refs, ok := keyMap["repositories"].([]interface{})
		if !ok {
			continue
		}
		for _, refInterface := range refs {
			refMap, ok := refInterface.(map[string]interface{})
			if !ok {
				return fmt.Errorf("repositories section is not valid in .api_keys[%v]", keyMap["name"])
			}
			if key := findUnexpectedKey(refMap, allowedRefKeys); key != "" {
				return fmt.Errorf("unexpected key: .api_keys[%v].repositories[%v].%v", keyMap["name"], refMap["repo"], key)
			}
		}
	}

	// check "webhook" section
	if webhookMap, ok := raw["webhook"].(map[string]interface{}); ok {
		allowedWebhookKeys := getAllowedKeys(WebhookConfig{})
		if key := findUnexpectedKey(webhookMap, allowedWebhookKeys); key != "" {
			return fmt.Errorf("unexpected key: .webhook.%v", key)
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	typ := reflect.TypeOf(config)

	for i := 0; i < typ.NumField(); i++ {
		yamlTag := typ.Field(i).Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
