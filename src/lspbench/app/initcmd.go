package app

import (
	_ "embed"
	"fmt"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/lspbench/lspbench/src/lspbench/internal/fs"
	"gopkg.in/yaml.v3"
)

//go:embed benchmark.template.yaml
var configTemplate string

// InitConfig writes the starter configuration to path, refusing to
// overwrite an existing file.
func InitConfig(benchFS fs.BenchFS, path string) error {
	exists, err := benchFS.FileExists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s already exists", path)
	}
	// The embedded template must stay parseable as a benchmark config.
	var cfg entity.Config
	if err := yaml.Unmarshal([]byte(configTemplate), &cfg); err != nil {
		return fmt.Errorf("embedded template is invalid: %w", err)
	}
	return benchFS.WriteFile(path, []byte(configTemplate))
}
