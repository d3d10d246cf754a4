package builtin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/iged-project/iged/internal/agent"
)

// ColumnStats summarizes one numeric CSV column.
type ColumnStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

type dataMiner struct {
	baseDir string
}

func newDataMiner(env agent.Env) (agent.Agent, error) {
	return &dataMiner{baseDir: env.OutputDir}, nil
}

func (d *dataMiner) Name() string { return EntryDataMiner }

func (d *dataMiner) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	path := stringParam(req, "file_path")
	if path == "" {
		path = req.Target
	}
	if path == "" {
		return agent.Result{Success: false, Output: "data_miner: no input file given"}, nil
	}
	path = d.resolve(path)

	var (
		data map[string]any
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		data, err = summarizeCSV(ctx, path)
	case ".json":
		data, err = summarizeJSON(path)
	default:
		return agent.Result{Success: false, Output: fmt.Sprintf("data_miner: unsupported file type %q", filepath.Ext(path))}, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return agent.Result{Success: false, Output: fmt.Sprintf("data_miner: %s not found", path)}, nil
	}
	if err != nil {
		return agent.Result{}, err
	}
	data["file"] = path
	return agent.Result{Success: true, Output: describe(data), Data: data}, nil
}

// resolve keeps absolute and existing relative paths; otherwise it looks
// in the output directory.
func (d *dataMiner) resolve(p string) string {
	if filepath.IsAbs(p) || d.baseDir == "" {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(d.baseDir, p)
}

func summarizeCSV(ctx context.Context, path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return map[string]any{"format": "csv", "rows": 0, "columns": []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	sums := make([]float64, len(header))
	stats := make([]ColumnStats, len(header))
	numeric := make([]bool, len(header))
	for i := range numeric {
		numeric[i] = true
		stats[i].Min = math.Inf(1)
		stats[i].Max = math.Inf(-1)
	}
	rows := 0
	for {
		if rows%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rows+2, err)
		}
		rows++
		for i := range header {
			if i >= len(rec) || !numeric[i] {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				numeric[i] = false
				continue
			}
			st := &stats[i]
			st.Count++
			sums[i] += v
			st.Min = math.Min(st.Min, v)
			st.Max = math.Max(st.Max, v)
		}
	}

	cols := map[string]ColumnStats{}
	for i, name := range header {
		if numeric[i] && stats[i].Count > 0 {
			stats[i].Mean = sums[i] / float64(stats[i].Count)
			cols[name] = stats[i]
		}
	}
	return map[string]any{
		"format":          "csv",
		"rows":            rows,
		"columns":         header,
		"numeric_columns": cols,
	}, nil
}

func summarizeJSON(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	out := map[string]any{"format": "json"}
	switch t := v.(type) {
	case []any:
		out["rows"] = len(t)
		keys := map[string]bool{}
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				for k := range obj {
					keys[k] = true
				}
			}
		}
		out["columns"] = sortedSet(keys)
	case map[string]any:
		out["rows"] = 1
		keys := map[string]bool{}
		for k := range t {
			keys[k] = true
		}
		out["columns"] = sortedSet(keys)
	default:
		out["rows"] = 1
		out["columns"] = []string{}
	}
	return out, nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func describe(data map[string]any) string {
	cols, _ := data["columns"].([]string)
	s := fmt.Sprintf("%v %s: %v rows, %d columns", data["file"], data["format"], data["rows"], len(cols))
	if nc, ok := data["numeric_columns"].(map[string]ColumnStats); ok && len(nc) > 0 {
		names := make([]string, 0, len(nc))
		for n := range nc {
			names = append(names, n)
		}
		sort.Strings(names)
		var parts []string
		for _, n := range names {
			parts = append(parts, fmt.Sprintf("%s mean=%.2f", n, nc[n].Mean))
		}
		s += "; " + strings.Join(parts, ", ")
	}
	return s
}
