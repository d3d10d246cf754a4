package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyInput(t *testing.T) {
	p := New()
	for _, in := range []string{"", "   ", "\t\n"} {
		cmd := p.Parse(in)
		assert.Equal(t, TypeError, cmd.CommandType)
		assert.Equal(t, AgentNone, cmd.Agent)
		assert.Equal(t, OutcomeError, cmd.Outcome)
		assert.Zero(t, cmd.Confidence)
		assert.NotEmpty(t, cmd.Error)
		assert.NoError(t, Validate(cmd))
	}
}

func TestParse_Categories(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		category Category
		agent    string
		taskType string
		action   string
	}{
		{"codegen web", "Generate a Flask web app", CategoryCodegen, "codegen_agent", "codegen", "web"},
		{"codegen api", "write a rest api for users", CategoryCodegen, "codegen_agent", "codegen", "api"},
		{"secops", "scan ports on 192.168.1.10", CategorySecOps, "secops", "security", "scan"},
		{"secops audit", "security audit of the mail server", CategorySecOps, "secops", "security", "audit"},
		{"advanced", "comprehensive security review", CategoryAdvancedSecOps, "advanced_secops", "advanced_security", "advanced"},
		{"advanced no action keyword", "zero-day attack surface", CategoryAdvancedSecOps, "advanced_secops", "advanced_security", "general"},
		{"network", "monitor network traffic", CategoryNetworkIntelligence, "network_intelligence", "network", "monitor"},
		{"remote", "connect to remote host", CategoryRemoteControl, "remote_control", "remote", "connect"},
		{"data", "process file sales.csv", CategoryDataMiner, "data_miner", "data", "analyze"},
	}
	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := p.Parse(tt.input)
			assert.Equal(t, OutcomeMatched, cmd.Outcome)
			assert.Equal(t, string(tt.category), cmd.CommandType)
			assert.Equal(t, tt.agent, cmd.Agent)
			assert.Equal(t, tt.taskType, cmd.TaskType)
			assert.Equal(t, tt.action, cmd.Action)
			assert.NoError(t, Validate(cmd))
		})
	}
}

func TestParse_OverlapResolvesByCategoryOrder(t *testing.T) {
	// "vulnerability scan" matches both secops and advanced_secops patterns;
	// secops is scanned first.
	cmd := New().Parse("vulnerability scan of the lab")
	assert.Equal(t, string(CategorySecOps), cmd.CommandType)

	order := Categories()
	require.Len(t, order, 6)
	assert.Equal(t, []Category{
		CategoryCodegen,
		CategorySecOps,
		CategoryAdvancedSecOps,
		CategoryNetworkIntelligence,
		CategoryRemoteControl,
		CategoryDataMiner,
	}, order)
}

func TestParse_Unmatched(t *testing.T) {
	cmd := New().Parse("tell me a joke")
	assert.Equal(t, TypeGeneral, cmd.CommandType)
	assert.Equal(t, OutcomeUnmatched, cmd.Outcome)
	assert.Empty(t, cmd.Agent, "unmatched commands must not be assigned an agent")
	assert.False(t, cmd.Matched())
	assert.NoError(t, Validate(cmd))
}

func TestParse_Parameters(t *testing.T) {
	cmd := New().Parse(`process file "sales.csv" to html with port 8080 quiet`)

	assert.Equal(t, "sales.csv", cmd.Target)
	assert.Equal(t, "sales.csv", cmd.Parameters["file_path"])
	assert.Equal(t, 8080, cmd.Parameters["port"])
	assert.Equal(t, "html", cmd.Parameters["output_format"])
	assert.Equal(t, false, cmd.Parameters["verbose"])
	assert.Len(t, cmd.Parameters, 4)
	assert.InDelta(t, 0.9, cmd.Confidence, 1e-9)
}

func TestParse_VerboseLastWriteWins(t *testing.T) {
	p := New()
	assert.Equal(t, true, p.Parse("scan ports detailed").Parameters["verbose"])
	assert.Equal(t, false, p.Parse("scan ports full but quiet").Parameters["verbose"])
}

func TestExtractTarget_Priority(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"open https://a.b/c on 1.2.3.4", "https://a.b/c"},
		{"ping 1.2.3.4 at host", "1.2.3.4"},
		{"test the example.org now", "example.org"},
		{`open "notes.txt" for me`, "notes.txt"},
		{"deploy on staging", "staging"},
		{"nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTarget(tt.input))
		})
	}
}

func TestParse_Confidence(t *testing.T) {
	p := New()
	tests := []struct {
		input string
		want  float64
	}{
		// matched + specific action + one keyword
		{"Generate a Flask web app", 0.9},
		// no category, no params, no keywords
		{"tell me a joke", 0.5},
		// action + two keywords (capped) + ip/target params (capped) clamps to 1
		{"scan and scan and scan ports on 10.0.0.1", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Parse(tt.input).Confidence, 1e-9)
		})
	}
}

func TestParse_ConfidenceAlwaysInRange(t *testing.T) {
	p := New()
	inputs := []string{
		"a", "scan", "generate create analyze monitor scan",
		`analyze data "x.csv" https://x.y 1.1.1.1 port 1 as json verbose`,
		"🚀🚀🚀", "SCAN FOR VULNERABILITIES ON 10.0.0.5",
	}
	for _, in := range inputs {
		cmd := p.Parse(in)
		assert.GreaterOrEqual(t, cmd.Confidence, 0.0, in)
		assert.LessOrEqual(t, cmd.Confidence, 1.0, in)
		assert.Contains(t, []Outcome{OutcomeMatched, OutcomeUnmatched}, cmd.Outcome, in)
	}
}

func TestParse_UsesClock(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := New().WithClock(func() time.Time { return ts })
	assert.Equal(t, ts, p.Parse("scan ports").Timestamp)
	assert.Equal(t, ts, p.Parse("").Timestamp)
}

func TestSupportedCommands(t *testing.T) {
	sc := SupportedCommands()
	assert.Len(t, sc, 6)
	require.Len(t, sc["secops"], 4)
	assert.Equal(t, "scan|check|test|audit for ?vulnerabilities|security|ports|network", sc["secops"][0])
}

func TestAgentFor(t *testing.T) {
	agent, ok := AgentFor(CategoryDataMiner)
	assert.True(t, ok)
	assert.Equal(t, "data_miner", agent)

	_, ok = AgentFor("nope")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	good := New().Parse("scan ports")
	require.NoError(t, Validate(good))

	bad := good
	bad.Confidence = 1.5
	assert.Error(t, Validate(bad))

	bad = good
	bad.Agent = ""
	assert.Error(t, Validate(bad))

	bad = good
	bad.Parameters = nil
	assert.Error(t, Validate(bad))

	bad = good
	bad.Outcome = "maybe"
	assert.Error(t, Validate(bad))
}
