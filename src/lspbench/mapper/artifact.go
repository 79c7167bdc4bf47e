package mapper

import (
	"encoding/json"
	"math"

	"github.com/lspbench/lspbench/src/lspbench/entity"
)

// Artifact is the JSON document emitted after a run.
type Artifact struct {
	Timestamp  string       `json:"timestamp"`
	Date       string       `json:"date"`
	Settings   Settings     `json:"settings"`
	Servers    []ServerMeta `json:"servers"`
	Benchmarks []Benchmark  `json:"benchmarks"`
}

// Settings summarizes the run configuration inside the artifact.
type Settings struct {
	Iterations       int                       `json:"iterations"`
	Warmup           int                       `json:"warmup"`
	TimeoutSecs      int                       `json:"timeout_secs"`
	IndexTimeoutSecs int                       `json:"index_timeout_secs"`
	Project          string                    `json:"project"`
	File             string                    `json:"file"`
	Line             uint32                    `json:"line"`
	Col              uint32                    `json:"col"`
	Methods          map[string]MethodOverride `json:"methods,omitempty"`
}

// MethodOverride is the subset of a per-method override worth recording.
type MethodOverride struct {
	Line    *uint32 `json:"line,omitempty"`
	Col     *uint32 `json:"col,omitempty"`
	Trigger string  `json:"trigger,omitempty"`
	NewName string  `json:"newName,omitempty"`
	Cold    bool    `json:"cold,omitempty"`
}

// ServerMeta describes one server in the artifact header.
type ServerMeta struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Benchmark groups per-server results for one method.
type Benchmark struct {
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Servers []ServerResult  `json:"servers"`
}

// ServerResult is the wire form of one entity.Result.
type ServerResult struct {
	Server     string          `json:"server"`
	Status     string          `json:"status"`
	MeanMs     *float64        `json:"mean_ms,omitempty"`
	P50Ms      *float64        `json:"p50_ms,omitempty"`
	P95Ms      *float64        `json:"p95_ms,omitempty"`
	MinMs      *float64        `json:"min_ms,omitempty"`
	MaxMs      *float64        `json:"max_ms,omitempty"`
	RSSKb      *int64          `json:"rss_kb,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	Iterations []IterationJSON `json:"iterations,omitempty"`
}

// IterationJSON is the wire form of one iteration record.
type IterationJSON struct {
	Ms       float64         `json:"ms"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BuildArtifact assembles the output document from run state.
func BuildArtifact(cfg *entity.Config, versions []entity.ServerVersion, entries []entity.BenchmarkEntry, timestamp, date string) Artifact {
	servers := make([]ServerMeta, 0, len(versions))
	for _, v := range versions {
		meta := ServerMeta{Name: v.Label, Version: v.Version}
		for _, s := range cfg.Servers {
			if s.Label == v.Label {
				meta.Description = s.Description
				meta.Link = s.Link
				break
			}
		}
		servers = append(servers, meta)
	}

	benchmarks := make([]Benchmark, 0, len(entries))
	for _, e := range entries {
		b := Benchmark{Name: e.Name, Input: e.Input}
		for _, r := range e.Servers {
			b.Servers = append(b.Servers, ResultToJSON(r))
		}
		benchmarks = append(benchmarks, b)
	}

	return Artifact{
		Timestamp:  timestamp,
		Date:       date,
		Settings:   settingsFrom(cfg),
		Servers:    servers,
		Benchmarks: benchmarks,
	}
}

// ResultToJSON converts one result to its wire form, rounding milliseconds
// to two decimals.
func ResultToJSON(r entity.Result) ServerResult {
	out := ServerResult{
		Server:   r.Server,
		Status:   string(r.Status),
		Response: r.Response,
		Error:    r.Reason,
	}
	if r.RSSKilobytes > 0 {
		rss := r.RSSKilobytes
		out.RSSKb = &rss
	}
	if r.Stats != nil {
		out.MeanMs = round2p(r.Stats.Mean)
		out.P50Ms = round2p(r.Stats.P50)
		out.P95Ms = round2p(r.Stats.P95)
		out.MinMs = round2p(r.Stats.Min)
		out.MaxMs = round2p(r.Stats.Max)
	}
	for _, it := range r.Iterations {
		out.Iterations = append(out.Iterations, IterationJSON{
			Ms:       Round2(it.Millis),
			Response: it.Response,
			Error:    it.Err,
		})
	}
	return out
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2p(v float64) *float64 {
	r := Round2(v)
	return &r
}

func settingsFrom(cfg *entity.Config) Settings {
	s := Settings{
		Iterations:       *cfg.Iterations,
		Warmup:           *cfg.Warmup,
		TimeoutSecs:      cfg.TimeoutSecs,
		IndexTimeoutSecs: cfg.IndexTimeoutSecs,
		Project:          cfg.Project,
		File:             cfg.File,
		Line:             *cfg.Line,
		Col:              *cfg.Col,
	}
	if len(cfg.Methods) > 0 {
		s.Methods = make(map[string]MethodOverride, len(cfg.Methods))
		for name, m := range cfg.Methods {
			s.Methods[name] = MethodOverride{
				Line:    m.Line,
				Col:     m.Col,
				Trigger: m.Trigger,
				NewName: m.NewName,
				Cold:    m.Cold,
			}
		}
	}
	return s
}
