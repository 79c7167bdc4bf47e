package mapper

import (
	"path/filepath"
	"strings"
)

// languageIDs maps file extensions to LSP language identifiers for the
// servers commonly benchmarked.
var languageIDs = map[string]string{
	".sol":  "solidity",
	".go":   "go",
	".rs":   "rust",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".py":   "python",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
	".lua":  "lua",
	".zig":  "zig",
	".yaml": "yaml",
	".json": "json",
}

// LanguageID resolves the language id for the benchmarked file. An explicit
// config override wins; otherwise the extension decides, falling back to the
// bare extension itself.
func LanguageID(override string, path string) string {
	if override != "" {
		return override
	}
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := languageIDs[ext]; ok {
		return id
	}
	return strings.TrimPrefix(ext, ".")
}
