package parser

import "regexp"

// Category is a parser command category. Each category maps to one agent.
type Category string

const (
	CategoryCodegen             Category = "codegen"
	CategorySecOps              Category = "secops"
	CategoryAdvancedSecOps      Category = "advanced_secops"
	CategoryNetworkIntelligence Category = "network_intelligence"
	CategoryRemoteControl       Category = "remote_control"
	CategoryDataMiner           Category = "dataminer"
)

type action struct {
	name     string
	keywords []string
}

type rule struct {
	category Category
	agent    string
	taskType string
	patterns []*regexp.Regexp
	actions  []action
}

// rules is scanned in slice order; the first category with a matching
// pattern wins, so overlapping patterns resolve to the earlier category.
var rules = []rule{
	{
		category: CategoryCodegen,
		agent:    "codegen_agent",
		taskType: "codegen",
		patterns: compile(
			`(?:generate|create|make|build)\s+(?:a\s+)?(?:flask|web|python|script|api|rest|html|website)`,
			`(?:write|code)\s+(?:a\s+)?(?:flask|web|python|script|api|rest|html|website)`,
			`(?:develop|program)\s+(?:a\s+)?(?:flask|web|python|script|api|rest|html|website)`,
		),
		actions: []action{
			{"web", []string{"flask", "web", "website", "html"}},
			{"api", []string{"api", "rest", "endpoint"}},
			{"script", []string{"script", "python", "code"}},
			{"generate", []string{"generate", "create", "make", "build"}},
		},
	},
	{
		category: CategorySecOps,
		agent:    "secops",
		taskType: "security",
		patterns: compile(
			`(?:scan|check|test|audit)\s+(?:for\s+)?(?:vulnerabilities|security|ports|network)`,
			`(?:security|penetration|vulnerability)\s+(?:scan|test|audit)`,
			`(?:port|network)\s+(?:scan|check|test)`,
			`(?:web|http|https)\s+(?:security|vulnerability)\s+(?:scan|check)`,
		),
		actions: []action{
			{"scan", []string{"scan", "check", "test"}},
			{"audit", []string{"audit", "security"}},
			{"vulnerability", []string{"vulnerability", "vuln"}},
			{"penetration", []string{"penetration", "pentest"}},
		},
	},
	{
		category: CategoryAdvancedSecOps,
		agent:    "advanced_secops",
		taskType: "advanced_security",
		patterns: compile(
			`(?:penetrate|hack|exploit|breach)\s+(?:into|to|the)\s+`,
			`(?:advanced|deep|comprehensive)\s+(?:penetration|security|hacking)`,
			`(?:zero.?day|exploit|vulnerability)\s+(?:scan|test|attack)`,
			`(?:persistent|backdoor|covert)\s+(?:access|connection|control)`,
		),
		actions: []action{
			{"exploit", []string{"exploit", "hack", "breach"}},
			{"persistence", []string{"persistent", "backdoor"}},
			{"advanced", []string{"advanced", "deep", "comprehensive"}},
		},
	},
	{
		category: CategoryNetworkIntelligence,
		agent:    "network_intelligence",
		taskType: "network",
		patterns: compile(
			`(?:monitor|surveillance|intercept)\s+(?:network|traffic|communication)`,
			`(?:capture|analyze|decode)\s+(?:packets|traffic|protocols)`,
			`(?:device|inventory|discovery)\s+(?:network|devices|systems)`,
			`(?:intelligence|reconnaissance|gathering)\s+(?:network|system)`,
		),
		actions: []action{
			{"monitor", []string{"monitor", "surveillance"}},
			{"analyze", []string{"analyze", "decode"}},
			{"discovery", []string{"discovery", "inventory"}},
			{"reconnaissance", []string{"reconnaissance", "intel"}},
		},
	},
	{
		category: CategoryRemoteControl,
		agent:    "remote_control",
		taskType: "remote",
		patterns: compile(
			`(?:connect|establish|control)\s+(?:remote|to|connection)`,
			`(?:execute|run|command)\s+(?:remote|on|system)`,
			`(?:deploy|payload|backdoor)\s+(?:to|on|system)`,
			`(?:monitor|surveillance)\s+(?:remote|system|device)`,
		),
		actions: []action{
			{"connect", []string{"connect", "establish"}},
			{"execute", []string{"execute", "run"}},
			{"deploy", []string{"deploy", "payload"}},
			{"monitor", []string{"monitor", "surveillance"}},
		},
	},
	{
		category: CategoryDataMiner,
		agent:    "data_miner",
		taskType: "data",
		patterns: compile(
			`(?:analyze|process|mine|extract)\s+(?:data|dataset|file)`,
			`(?:data|statistical)\s+(?:analysis|processing|mining)`,
			`(?:visualize|plot|chart)\s+(?:data|dataset)`,
			`(?:generate|create)\s+(?:statistics|stats|report)\s+(?:for|from)`,
		),
		actions: []action{
			{"analyze", []string{"analyze", "process"}},
			{"visualize", []string{"visualize", "plot", "chart"}},
			{"extract", []string{"extract", "mine"}},
			{"statistics", []string{"statistics", "stats"}},
		},
	},
}

// Parameter patterns run against the original (case-preserved) text.
var (
	reFilePath = regexp.MustCompile(`["']([^"']*\.(?:csv|xlsx|xls|json|txt|py|html|js|css))["']`)
	reURL      = regexp.MustCompile(`https?://[^\s]+`)
	reIPv4     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reHostname = regexp.MustCompile(`(?:scan|check|test)\s+(?:the\s+)?([a-zA-Z0-9.-]+)`)
	reTarget   = regexp.MustCompile(`(?:for|on|at)\s+([a-zA-Z0-9._-]+)`)
	rePort     = regexp.MustCompile(`(?i)port\s+(\d+)`)
	reFormat   = regexp.MustCompile(`(?i)(?:as|in|to)\s+(json|csv|html|txt|pdf)`)
	reKeyword  = regexp.MustCompile(`\b(?:scan|generate|create|analyze|monitor)\b`)
)

var (
	verboseWords = []string{"verbose", "detailed", "full"}
	quietWords   = []string{"quiet", "silent", "minimal"}
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
