package verify

import (
	"encoding/json"
	"testing"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func uint32Ptr(v uint32) *uint32 { return &v }

func newChecker() Checker {
	return New(Params{Logger: zap.NewNop().Sugar()})
}

func okResult(server string, response string, iterations ...entity.Iteration) entity.Result {
	return entity.Result{
		Server:     server,
		Status:     entity.StatusOK,
		Response:   json.RawMessage(response),
		Iterations: iterations,
	}
}

func TestCheckExpectation(t *testing.T) {
	location := `{"uri":"file:///proj/lib/SafeCast.sol","range":{"start":{"line":39,"character":4},"end":{"line":39,"character":12}}}`
	link := `[{"targetUri":"file:///proj/lib/SafeCast.sol","targetRange":{"start":{"line":39,"character":4},"end":{"line":40,"character":0}}}]`

	tests := []struct {
		name     string
		response string
		expect   entity.Expect
		wantErr  string
	}{
		{name: "location match", response: location, expect: entity.Expect{File: "SafeCast.sol", Line: uint32Ptr(39)}},
		{name: "location link match", response: link, expect: entity.Expect{File: "SafeCast.sol", Line: uint32Ptr(39)}},
		{name: "file only", response: location, expect: entity.Expect{File: "SafeCast.sol"}},
		{name: "wrong file", response: location, expect: entity.Expect{File: "Pool.sol"}, wantErr: "file:"},
		{name: "wrong line", response: location, expect: entity.Expect{Line: uint32Ptr(7)}, wantErr: "line:"},
		{name: "empty array", response: `[]`, expect: entity.Expect{File: "SafeCast.sol"}, wantErr: "empty array"},
		{name: "null", response: `null`, expect: entity.Expect{File: "SafeCast.sol"}, wantErr: "null"},
		{name: "no range", response: `{"uri":"file:///proj/lib/SafeCast.sol"}`, expect: entity.Expect{Line: uint32Ptr(39)}, wantErr: "no range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkExpectation(json.RawMessage(tt.response), tt.expect)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckMethod(t *testing.T) {
	method, ok := entity.LookupMethod("textDocument/definition")
	require.True(t, ok)
	location := `[{"uri":"file:///proj/lib/SafeCast.sol","range":{"start":{"line":39,"character":0}}}]`

	t.Run("canonical response checked once per server", func(t *testing.T) {
		override := entity.MethodConfig{Expect: &entity.Expect{File: "SafeCast.sol", Line: uint32Ptr(39)}}
		tally := newChecker().CheckMethod(method, override, []entity.Result{
			okResult("alpha", location),
			okResult("beta", `[{"uri":"file:///proj/lib/Other.sol","range":{"start":{"line":1,"character":0}}}]`),
		})
		assert.Equal(t, 1, tally.Passed)
		assert.Equal(t, 1, tally.Failed)
	})

	t.Run("no expect counts skipped", func(t *testing.T) {
		tally := newChecker().CheckMethod(method, entity.MethodConfig{}, []entity.Result{
			okResult("alpha", location),
		})
		assert.Equal(t, 1, tally.Skipped)
	})

	t.Run("failed and invalid servers are not checked", func(t *testing.T) {
		override := entity.MethodConfig{Expect: &entity.Expect{File: "SafeCast.sol"}}
		tally := newChecker().CheckMethod(method, override, []entity.Result{
			{Server: "alpha", Status: entity.StatusFail, Reason: "timeout"},
			{Server: "beta", Status: entity.StatusInvalid},
		})
		assert.Zero(t, tally.Passed+tally.Failed+tally.Skipped)
	})

	t.Run("snapshot chain checks each iteration", func(t *testing.T) {
		override := entity.MethodConfig{
			DidChange: []entity.FileSnapshot{
				{File: "Pool.v2.sol", Expect: &entity.Expect{Line: uint32Ptr(39)}},
				{File: "Pool.v3.sol", Expect: &entity.Expect{Line: uint32Ptr(44)}},
			},
		}
		// The second iteration omitted its response because it matched the
		// canonical one, which points at line 39.
		tally := newChecker().CheckMethod(method, override, []entity.Result{
			okResult("alpha", location,
				entity.Iteration{Millis: 2},
				entity.Iteration{Millis: 3},
			),
		})
		assert.Equal(t, 1, tally.Passed)
		assert.Equal(t, 1, tally.Failed)
	})
}
