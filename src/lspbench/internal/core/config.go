// Package core provides configuration and logging for the lsp-bench app.
package core

import (
	"fmt"
	"os"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	uber_config "go.uber.org/config"
	"go.uber.org/fx"
)

// ConfigModule provides the YAML config provider and the parsed benchmark
// configuration.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
	fx.Provide(NewBenchConfig),
)

// Source names the benchmark config file to load.
type Source struct {
	Path string
}

// NewConfig loads the benchmark configuration file into a config provider
// with environment variable expansion.
func NewConfig(src Source) (uber_config.Provider, error) {
	if _, err := os.Stat(src.Path); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", src.Path, err)
	}
	provider, err := uber_config.NewYAML(
		uber_config.File(src.Path),
		uber_config.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", src.Path, err)
	}
	return provider, nil
}

// NewBenchConfig populates, defaults and validates the benchmark config.
func NewBenchConfig(provider uber_config.Provider) (*entity.Config, error) {
	var cfg entity.Config
	if err := provider.Get(uber_config.Root).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("populating config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
