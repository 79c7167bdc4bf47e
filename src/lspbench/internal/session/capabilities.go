package session

// clientCapabilities is the static capability record advertised during the
// handshake. It claims support for everything the benchmarked methods can
// answer with, so that no server under test withholds a feature for lack of
// a client capability.
func clientCapabilities() map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{
			"synchronization": map[string]interface{}{
				"dynamicRegistration": false,
				"didSave":             true,
			},
			"publishDiagnostics": map[string]interface{}{
				"relatedInformation": true,
			},
			"definition":     map[string]interface{}{"dynamicRegistration": false, "linkSupport": true},
			"declaration":    map[string]interface{}{"dynamicRegistration": false, "linkSupport": true},
			"typeDefinition": map[string]interface{}{"dynamicRegistration": false, "linkSupport": true},
			"implementation": map[string]interface{}{"dynamicRegistration": false, "linkSupport": true},
			"hover": map[string]interface{}{
				"dynamicRegistration": false,
				"contentFormat":       []string{"plaintext", "markdown"},
			},
			"completion": map[string]interface{}{
				"dynamicRegistration": false,
				"completionItem": map[string]interface{}{
					"snippetSupport": false,
				},
			},
			"signatureHelp": map[string]interface{}{"dynamicRegistration": false},
			"references":    map[string]interface{}{"dynamicRegistration": false},
			"rename": map[string]interface{}{
				"dynamicRegistration": false,
				"prepareSupport":      true,
			},
			"documentSymbol": map[string]interface{}{
				"dynamicRegistration":               false,
				"hierarchicalDocumentSymbolSupport": true,
			},
			"documentLink":  map[string]interface{}{"dynamicRegistration": false},
			"codeAction":    map[string]interface{}{"dynamicRegistration": false},
			"codeLens":      map[string]interface{}{"dynamicRegistration": false},
			"formatting":    map[string]interface{}{"dynamicRegistration": false},
			"foldingRange":  map[string]interface{}{"dynamicRegistration": false},
			"selectionRange": map[string]interface{}{
				"dynamicRegistration": false,
			},
			"inlayHint":     map[string]interface{}{"dynamicRegistration": false},
			"colorProvider": map[string]interface{}{"dynamicRegistration": false},
			"semanticTokens": map[string]interface{}{
				"dynamicRegistration": false,
				"requests": map[string]interface{}{
					"range": true,
					"full":  map[string]interface{}{"delta": true},
				},
				"tokenTypes": []string{
					"namespace", "type", "class", "enum", "interface", "struct",
					"typeParameter", "parameter", "variable", "property",
					"enumMember", "event", "function", "method", "macro",
					"keyword", "modifier", "comment", "string", "number",
					"regexp", "operator",
				},
				"tokenModifiers": []string{},
				"formats":        []string{"relative"},
			},
		},
		"workspace": map[string]interface{}{
			"symbol":        map[string]interface{}{"dynamicRegistration": false},
			"configuration": true,
		},
	}
}
