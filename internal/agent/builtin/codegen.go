package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/agent"
)

type scaffoldFile struct {
	name string
	tmpl *template.Template
}

var scaffolds = map[string][]scaffoldFile{
	"web": {
		{"index.html", template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Name}}</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>{{.Name}}</h1>
  <p>Generated by IGED on {{.Generated}} for: {{.Command}}</p>
</body>
</html>
`))},
		{"style.css", template.Must(template.New("css").Parse(`body { font-family: sans-serif; margin: 2rem; }
h1 { color: #1f6feb; }
`))},
	},
	"api": {
		{"app.py", template.Must(template.New("app").Parse(`"""{{.Name}} API generated by IGED on {{.Generated}}."""
from flask import Flask, jsonify

app = Flask(__name__)


@app.get("/health")
def health():
    return jsonify(status="ok")


if __name__ == "__main__":
    app.run(port=5001)
`))},
		{"requirements.txt", template.Must(template.New("req").Parse("flask>=3.0\n"))},
	},
	"script": {
		{"main.py", template.Must(template.New("script").Parse(`#!/usr/bin/env python3
"""{{.Name}}: generated by IGED on {{.Generated}}.

Request: {{.Command}}
"""


def main() -> None:
    print("{{.Name}} ready")


if __name__ == "__main__":
    main()
`))},
	},
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

type codegen struct {
	outputDir string
	log       zerolog.Logger
	now       func() time.Time
}

func newCodegen(env agent.Env) (agent.Agent, error) {
	if env.OutputDir == "" {
		return nil, fmt.Errorf("output dir not configured")
	}
	return &codegen{outputDir: env.OutputDir, log: env.Logger, now: time.Now}, nil
}

func (c *codegen) Name() string { return EntryCodegen }

func (c *codegen) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	kind := scaffoldKind(req)
	name := projectName(req)
	dir := filepath.Join(c.outputDir, "codegen", fmt.Sprintf("%s-%s-%s", kind, name, shortID(req.TaskID)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agent.Result{}, fmt.Errorf("create project dir: %w", err)
	}

	data := struct {
		Name      string
		Command   string
		Generated string
	}{name, req.Command, c.now().UTC().Format(time.RFC3339)}

	var files []string
	for _, sf := range scaffolds[kind] {
		if err := ctx.Err(); err != nil {
			return agent.Result{}, err
		}
		path := filepath.Join(dir, sf.name)
		f, err := os.Create(path)
		if err != nil {
			return agent.Result{}, fmt.Errorf("create %s: %w", sf.name, err)
		}
		err = sf.tmpl.Execute(f, data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return agent.Result{}, fmt.Errorf("render %s: %w", sf.name, err)
		}
		files = append(files, path)
	}
	c.log.Info().Str("kind", kind).Str("dir", dir).Msg("scaffold generated")
	return agent.Result{
		Success: true,
		Output:  fmt.Sprintf("Generated %s project %q with %d files in %s", kind, name, len(files), dir),
		Data:    map[string]any{"kind": kind, "dir": dir, "files": files},
	}, nil
}

func scaffoldKind(req agent.Request) string {
	switch a := stringParam(req, "action"); a {
	case "web", "api", "script":
		return a
	}
	lower := strings.ToLower(req.Command)
	switch {
	case strings.Contains(lower, "api") || strings.Contains(lower, "rest"):
		return "api"
	case strings.Contains(lower, "script") || strings.Contains(lower, "python"):
		return "script"
	default:
		return "web"
	}
}

func projectName(req agent.Request) string {
	n := unsafeName.ReplaceAllString(req.Target, "-")
	n = strings.Trim(n, "-")
	if n == "" {
		return "iged-app"
	}
	return n
}

func shortID(id string) string {
	id = unsafeName.ReplaceAllString(id, "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "adhoc"
	}
	return id
}
