// Package mapper converts between domain types and the LSP/JSON wire shapes:
// request parameters per method, artifact serialization and language ids.
package mapper

import (
	"encoding/json"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DefaultNewName is the placeholder identifier sent with rename requests
// when no override is configured.
const DefaultNewName = "__lsp_bench_rename__"

// inlayHintEndLine bounds the whole-document range sent with inlayHint.
const inlayHintEndLine = 9999

// RequestOptions carry the per-request knobs resolved from config
// overrides.
type RequestOptions struct {
	Cursor     entity.Cursor
	Trigger    string
	NewName    string
	RangeStart *entity.Cursor
}

// RequestParams builds the parameter object for one measured request,
// following LSP 3.17 shapes.
func RequestParams(method string, docURI uri.URI, opts RequestOptions) interface{} {
	doc := protocol.TextDocumentIdentifier{URI: docURI}
	pos := position(opts.Cursor)

	switch method {
	case "workspace/symbol":
		return map[string]interface{}{"query": ""}

	case "textDocument/references":
		return map[string]interface{}{
			"textDocument": doc,
			"position":     pos,
			"context":      map[string]interface{}{"includeDeclaration": true},
		}

	case "textDocument/completion":
		params := map[string]interface{}{
			"textDocument": doc,
			"position":     pos,
		}
		if opts.Trigger != "" {
			params["context"] = map[string]interface{}{
				"triggerKind":      2,
				"triggerCharacter": opts.Trigger,
			}
		}
		return params

	case "textDocument/rename":
		newName := opts.NewName
		if newName == "" {
			newName = DefaultNewName
		}
		return map[string]interface{}{
			"textDocument": doc,
			"position":     pos,
			"newName":      newName,
		}

	case "textDocument/formatting":
		return map[string]interface{}{
			"textDocument": doc,
			"options":      map[string]interface{}{"tabSize": 4, "insertSpaces": true},
		}

	case "textDocument/selectionRange":
		return map[string]interface{}{
			"textDocument": doc,
			"positions":    []protocol.Position{pos},
		}

	case "textDocument/inlayHint":
		return map[string]interface{}{
			"textDocument": doc,
			"range": protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: inlayHintEndLine, Character: 0},
			},
		}

	case "textDocument/semanticTokens/range":
		start := protocol.Position{Line: 0, Character: 0}
		if opts.RangeStart != nil {
			start = position(*opts.RangeStart)
		}
		return map[string]interface{}{
			"textDocument": doc,
			"range":        protocol.Range{Start: start, End: pos},
		}

	case "textDocument/semanticTokens/full/delta":
		return map[string]interface{}{
			"textDocument":     doc,
			"previousResultId": "",
		}
	}

	info, ok := entity.LookupMethod(method)
	if ok && info.Role == entity.RoleDocument {
		return map[string]interface{}{"textDocument": doc}
	}
	// Plain position-based methods: definition, declaration, typeDefinition,
	// implementation, hover, signatureHelp, prepareRename.
	return map[string]interface{}{
		"textDocument": doc,
		"position":     pos,
	}
}

// OptionsFor resolves RequestOptions from a method's config override and the
// given cursor.
func OptionsFor(override entity.MethodConfig, cursor entity.Cursor) RequestOptions {
	return RequestOptions{
		Cursor:     cursor,
		Trigger:    override.Trigger,
		NewName:    override.NewName,
		RangeStart: override.RangeStart,
	}
}

// RequestEnvelope renders the literal JSON-RPC envelope of a measured
// request, as stored in the artifact's `input` field.
func RequestEnvelope(method string, params interface{}) (json.RawMessage, error) {
	envelope := struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      int64       `json:"id"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}
	return json.Marshal(envelope)
}

func position(c entity.Cursor) protocol.Position {
	return protocol.Position{Line: c.Line, Character: c.Col}
}
