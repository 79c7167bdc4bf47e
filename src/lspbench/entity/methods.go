package entity

import "fmt"

// Role classifies how a method's request parameters are shaped and which
// runner drives it.
type Role int

// Method roles.
const (
	RolePosition Role = iota
	RoleDocument
	RoleWorkspace
	RoleLifecycle
)

// Well-known method names that select dedicated runners.
const (
	MethodInitialize = "initialize"
	MethodDiagnostic = "textDocument/diagnostic"
)

// MethodInfo is one entry of the benchmarkable method catalog.
type MethodInfo struct {
	Name string
	Role Role
}

// Catalog lists every benchmarkable method in execution order. "all" in the
// config expands to this list.
var Catalog = []MethodInfo{
	{Name: MethodInitialize, Role: RoleLifecycle},
	{Name: MethodDiagnostic, Role: RoleDocument},
	{Name: "textDocument/definition", Role: RolePosition},
	{Name: "textDocument/declaration", Role: RolePosition},
	{Name: "textDocument/typeDefinition", Role: RolePosition},
	{Name: "textDocument/implementation", Role: RolePosition},
	{Name: "textDocument/hover", Role: RolePosition},
	{Name: "textDocument/references", Role: RolePosition},
	{Name: "textDocument/completion", Role: RolePosition},
	{Name: "textDocument/signatureHelp", Role: RolePosition},
	{Name: "textDocument/rename", Role: RolePosition},
	{Name: "textDocument/prepareRename", Role: RolePosition},
	{Name: "textDocument/documentSymbol", Role: RoleDocument},
	{Name: "textDocument/documentLink", Role: RoleDocument},
	{Name: "textDocument/formatting", Role: RoleDocument},
	{Name: "textDocument/foldingRange", Role: RoleDocument},
	{Name: "textDocument/selectionRange", Role: RolePosition},
	{Name: "textDocument/codeLens", Role: RoleDocument},
	{Name: "textDocument/inlayHint", Role: RoleDocument},
	{Name: "textDocument/semanticTokens/full", Role: RoleDocument},
	{Name: "textDocument/semanticTokens/range", Role: RoleDocument},
	{Name: "textDocument/semanticTokens/full/delta", Role: RoleDocument},
	{Name: "textDocument/documentColor", Role: RoleDocument},
	{Name: "workspace/symbol", Role: RoleWorkspace},
}

// LookupMethod returns the catalog entry for a method name.
func LookupMethod(name string) (MethodInfo, bool) {
	for _, m := range Catalog {
		if m.Name == name {
			return m, true
		}
	}
	return MethodInfo{}, false
}

// ExpandMethods resolves the configured benchmark names to catalog entries,
// preserving the configured order. An empty list or the name "all" selects
// the full catalog in catalog order.
func ExpandMethods(names []string) ([]MethodInfo, error) {
	if len(names) == 0 {
		return Catalog, nil
	}
	for _, n := range names {
		if n == "all" {
			return Catalog, nil
		}
	}
	out := make([]MethodInfo, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		m, ok := LookupMethod(n)
		if !ok {
			return nil, fmt.Errorf("unknown benchmark %q", n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}
