// Package config loads cdsetool's CLI configuration: the identity
// provider's token endpoint, outbound proxies, the scratch directory, and
// the default download concurrency. Values come from an XDG-located YAML
// file, overridable by CDSETOOL_* environment variables and command-line
// flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/cdsetool/cdsetool-go/pkg/oidc"
)

// Config is the resolved set of run-wide defaults.
type Config struct {
	TokenEndpoint      string
	Proxies            map[string]string
	TmpDir             string
	DefaultConcurrency int
}

// DefaultPath returns the XDG-located default config file path,
// "<XDG_CONFIG_HOME>/cdsetool/config.yaml".
func DefaultPath() (string, error) {
	return xdg.ConfigFile("cdsetool/config.yaml")
}

// Load reads configuration from path (or the XDG default if path is
// empty, tolerating a missing file), applies CDSETOOL_* environment
// overrides, and returns the resolved Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("cdsetool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("token_endpoint", oidc.DefaultDiscoveryURL)
	v.SetDefault("tmp_dir", "")
	v.SetDefault("default_concurrency", 1)

	if path == "" {
		defaultPath, err := DefaultPath()
		if err == nil {
			path = defaultPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// With an explicit SetConfigFile, a missing file surfaces as a
			// not-exist path error rather than ConfigFileNotFoundError.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	proxies := map[string]string{}
	if raw := v.GetStringMapString("proxies"); raw != nil {
		proxies = raw
	}

	return &Config{
		TokenEndpoint:      v.GetString("token_endpoint"),
		Proxies:            proxies,
		TmpDir:             v.GetString("tmp_dir"),
		DefaultConcurrency: v.GetInt("default_concurrency"),
	}, nil
}
