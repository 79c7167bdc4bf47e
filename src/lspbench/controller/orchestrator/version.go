package orchestrator

import (
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
)

// _packageWalkDepth bounds the package.json walk above a resolved binary.
const _packageWalkDepth = 10

// available reports whether a server command can be launched: path-like
// commands must exist on disk, bare names must resolve on $PATH.
func (o *orchestrator) available(cmd string) bool {
	if strings.Contains(cmd, "/") {
		ok, err := o.fs.FileExists(cmd)
		return err == nil && ok
	}
	_, err := exec.LookPath(cmd)
	return err == nil
}

// detectVersion asks the server binary for its version, falling back to the
// nearest package.json for npm-distributed servers.
func (o *orchestrator) detectVersion(cmd string) string {
	stdout, stderr, _, err := o.exec.Run(exec.Command(cmd, "--version"))
	if err == nil {
		if line := firstLine(stdout); line != "" {
			return line
		}
		if line := firstLine(stderr); line != "" {
			return line
		}
	}
	if version := o.packageVersion(cmd); version != "" {
		return version
	}
	return "unknown"
}

// packageVersion walks up from the resolved binary looking for a
// package.json carrying name and version.
func (o *orchestrator) packageVersion(cmd string) string {
	binPath, err := exec.LookPath(cmd)
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(binPath); err == nil {
		binPath = resolved
	}
	dir := filepath.Dir(binPath)
	for i := 0; i < _packageWalkDepth; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		content, err := o.fs.ReadFile(filepath.Join(dir, "package.json"))
		if err != nil {
			continue
		}
		var pkg struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}
		if err := json.Unmarshal(content, &pkg); err != nil || pkg.Version == "" {
			continue
		}
		name := pkg.Name
		if name == "" {
			name = cmd
		}
		return name + " " + pkg.Version
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
