// Package verify checks benchmark responses against the `expect` blocks of
// the configuration, tallying passes and failures.
package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lspbench/lspbench/src/lspbench/entity"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Checker verifies one method's results against configured expectations.
type Checker interface {
	CheckMethod(method entity.MethodInfo, override entity.MethodConfig, results []entity.Result) entity.VerifyOutcome
}

// Params define values to be used by the checker.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
}

type checker struct {
	logger *zap.SugaredLogger
	dmp    *diffmatchpatch.DiffMatchPatch
}

// New creates a Checker.
func New(p Params) Checker {
	return &checker{logger: p.Logger, dmp: diffmatchpatch.New()}
}

// CheckMethod verifies each ok result. Snapshot chains map iterations 1:1
// to snapshots, with per-snapshot expectations taking precedence over the
// method-level one; otherwise only the canonical response is checked.
func (c *checker) CheckMethod(method entity.MethodInfo, override entity.MethodConfig, results []entity.Result) entity.VerifyOutcome {
	var tally entity.VerifyOutcome
	for _, res := range results {
		if res.Status != entity.StatusOK {
			continue
		}
		if len(override.DidChange) > 0 {
			c.checkSnapshots(method.Name, override, res, &tally)
			continue
		}
		if override.Expect == nil {
			tally.Skipped++
			continue
		}
		c.record(&tally, res.Server, method.Name, checkExpectation(res.Response, *override.Expect), *override.Expect, res.Response)
	}
	return tally
}

func (c *checker) checkSnapshots(methodName string, override entity.MethodConfig, res entity.Result, tally *entity.VerifyOutcome) {
	for i, snap := range override.DidChange {
		if i >= len(res.Iterations) {
			break
		}
		expect := snap.Expect
		if expect == nil {
			expect = override.Expect
		}
		if expect == nil {
			tally.Skipped++
			continue
		}
		// Iterations matching the canonical response omit their own copy.
		response := res.Iterations[i].Response
		if response == nil {
			response = res.Response
		}
		label := fmt.Sprintf("%s [%d] %s", res.Server, i+1, snap.File)
		c.record(tally, label, methodName, checkExpectation(response, *expect), *expect, response)
	}
}

func (c *checker) record(tally *entity.VerifyOutcome, label, methodName string, err error, expect entity.Expect, response json.RawMessage) {
	if err == nil {
		tally.Passed++
		c.logger.Infow("expectation passed", "method", methodName, "target", label)
		return
	}
	tally.Failed++
	c.logger.Warnw("expectation failed",
		"method", methodName,
		"target", label,
		"mismatch", err.Error(),
		"diff", c.renderDiff(expect, response),
	)
}

// renderDiff shows where the actual location diverges from the expected
// one.
func (c *checker) renderDiff(expect entity.Expect, response json.RawMessage) string {
	want := describeExpect(expect)
	got := describeLocation(response)
	diffs := c.dmp.DiffMain(want, got, false)
	return c.dmp.DiffPrettyText(diffs)
}

func describeExpect(expect entity.Expect) string {
	parts := make([]string, 0, 2)
	if expect.File != "" {
		parts = append(parts, "file="+expect.File)
	}
	if expect.Line != nil {
		parts = append(parts, fmt.Sprintf("line=%d", *expect.Line))
	}
	return strings.Join(parts, " ")
}

func describeLocation(response json.RawMessage) string {
	loc, err := firstLocation(response)
	if err != nil {
		return err.Error()
	}
	docURI, _ := locationURI(loc)
	parts := make([]string, 0, 2)
	if docURI != "" {
		parts = append(parts, "file="+docURI[strings.LastIndex(docURI, "/")+1:])
	}
	if line, ok := locationLine(loc); ok {
		parts = append(parts, fmt.Sprintf("line=%d", line))
	}
	return strings.Join(parts, " ")
}

// checkExpectation reports nil when the response matches the expectation.
// The file matches when the response URI ends with the expected suffix; the
// line is compared 0-based against targetRange (LocationLink) falling back
// to range (Location).
func checkExpectation(response json.RawMessage, expect entity.Expect) error {
	loc, err := firstLocation(response)
	if err != nil {
		return err
	}

	if expect.File != "" {
		docURI, _ := locationURI(loc)
		if !strings.HasSuffix(docURI, expect.File) {
			short := docURI
			if i := strings.LastIndex(docURI, "/"); i >= 0 {
				short = docURI[i+1:]
			}
			return fmt.Errorf("file: expected %q but got %q", expect.File, short)
		}
	}

	if expect.Line != nil {
		line, ok := locationLine(loc)
		if !ok {
			return fmt.Errorf("line: expected %d but response has no range", *expect.Line)
		}
		if line != *expect.Line {
			return fmt.Errorf("line: expected %d but got %d", *expect.Line, line)
		}
	}
	return nil
}

// firstLocation unwraps array responses to their first element.
func firstLocation(response json.RawMessage) (map[string]interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(response, &value); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %v", err)
	}
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("response is null")
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("response is empty array")
		}
		loc, ok := v[0].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("response element is not an object")
		}
		return loc, nil
	case map[string]interface{}:
		return v, nil
	default:
		return nil, fmt.Errorf("response is not a location")
	}
}

func locationURI(loc map[string]interface{}) (string, bool) {
	for _, key := range []string{"targetUri", "uri"} {
		if s, ok := loc[key].(string); ok {
			return s, true
		}
	}
	return "", false
}

func locationLine(loc map[string]interface{}) (uint32, bool) {
	for _, key := range []string{"targetRange", "range"} {
		rng, ok := loc[key].(map[string]interface{})
		if !ok {
			continue
		}
		start, ok := rng["start"].(map[string]interface{})
		if !ok {
			continue
		}
		line, ok := start["line"].(float64)
		if !ok {
			continue
		}
		return uint32(line), true
	}
	return 0, false
}
