// Package parser turns free-text commands into structured records that the
// orchestrator can route.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// TypeGeneral marks text that matched no category.
	TypeGeneral = "general"
	// TypeError marks input that could not be parsed at all.
	TypeError = "error"
	// AgentNone is the agent of an error record.
	AgentNone = "none"
	// ActionGeneral is the action when no keyword table entry applies.
	ActionGeneral = "general"
)

// Outcome distinguishes a category match from an explicit non-match.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeError     Outcome = "error"
)

// ParsedCommand is the immutable result of Parse. Confidence is a heuristic
// score in [0,1], not a probability.
type ParsedCommand struct {
	OriginalText string         `json:"original_text"`
	CommandType  string         `json:"command_type"`
	Action       string         `json:"action"`
	Agent        string         `json:"agent"`
	TaskType     string         `json:"task_type"`
	Target       string         `json:"target"`
	Parameters   map[string]any `json:"parameters"`
	Confidence   float64        `json:"confidence"`
	Timestamp    time.Time      `json:"timestamp"`
	Outcome      Outcome        `json:"outcome"`
	Error        string         `json:"error,omitempty"`
}

func (c ParsedCommand) Matched() bool { return c.Outcome == OutcomeMatched }

type Parser struct {
	now func() time.Time
}

func New() *Parser {
	return &Parser{now: time.Now}
}

// WithClock returns a parser that stamps records with now.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// Parse never panics and never returns an error: failures come back as a
// record with CommandType "error".
func (p *Parser) Parse(text string) (cmd ParsedCommand) {
	defer func() {
		if r := recover(); r != nil {
			cmd = p.errorRecord(text, fmt.Sprintf("parsing error: %v", r))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return p.errorRecord("", "empty command")
	}

	lower := strings.ToLower(text)
	cmd = ParsedCommand{
		OriginalText: text,
		CommandType:  TypeGeneral,
		Action:       ActionGeneral,
		TaskType:     TypeGeneral,
		Outcome:      OutcomeUnmatched,
		Timestamp:    p.now(),
	}
	if r, ok := match(lower); ok {
		cmd.CommandType = string(r.category)
		cmd.Agent = r.agent
		cmd.TaskType = r.taskType
		cmd.Action = actionFor(r, lower)
		cmd.Outcome = OutcomeMatched
	}
	cmd.Target = extractTarget(text)
	cmd.Parameters = extractParameters(text)
	cmd.Confidence = confidence(lower, cmd.Action, len(cmd.Parameters))
	return cmd
}

func (p *Parser) errorRecord(text, msg string) ParsedCommand {
	return ParsedCommand{
		OriginalText: text,
		CommandType:  TypeError,
		Action:       ActionGeneral,
		Agent:        AgentNone,
		TaskType:     TypeError,
		Parameters:   map[string]any{},
		Confidence:   0,
		Timestamp:    p.now(),
		Outcome:      OutcomeError,
		Error:        msg,
	}
}

func match(lower string) (rule, bool) {
	for _, r := range rules {
		for _, re := range r.patterns {
			if re.MatchString(lower) {
				return r, true
			}
		}
	}
	return rule{}, false
}

func actionFor(r rule, lower string) string {
	for _, a := range r.actions {
		for _, kw := range a.keywords {
			if strings.Contains(lower, kw) {
				return a.name
			}
		}
	}
	return ActionGeneral
}

// extractTarget prefers network identifiers, then quoted file paths, then
// the word after for/on/at.
func extractTarget(text string) string {
	if m := reURL.FindString(text); m != "" {
		return m
	}
	if m := reIPv4.FindString(text); m != "" {
		return m
	}
	if m := submatch(reHostname, text); m != "" {
		return m
	}
	if m := submatch(reFilePath, text); m != "" {
		return m
	}
	return submatch(reTarget, text)
}

func extractParameters(text string) map[string]any {
	params := map[string]any{}
	if m := submatch(reFilePath, text); m != "" {
		params["file_path"] = m
	}
	if m := reURL.FindString(text); m != "" {
		params["url"] = m
	}
	if m := reIPv4.FindString(text); m != "" {
		params["ip_address"] = m
	}
	if m := submatch(reHostname, text); m != "" {
		params["hostname"] = m
	}
	if m := submatch(reTarget, text); m != "" {
		params["target"] = m
	}
	if m := submatch(rePort, text); m != "" {
		if port, err := strconv.Atoi(m); err == nil {
			params["port"] = port
		}
	}
	if m := submatch(reFormat, text); m != "" {
		params["output_format"] = strings.ToLower(m)
	}

	lower := strings.ToLower(text)
	if containsAny(lower, verboseWords) {
		params["verbose"] = true
	}
	if containsAny(lower, quietWords) {
		params["verbose"] = false
	}
	return params
}

func confidence(lower, action string, paramCount int) float64 {
	score := 0.5
	if action != ActionGeneral {
		score += 0.3
	}
	score += min(float64(len(reKeyword.FindAllString(lower, -1)))*0.1, 0.2)
	score += min(float64(paramCount)*0.05, 0.1)
	return max(0, min(score, 1.0))
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Categories returns the category scan order.
func Categories() []Category {
	out := make([]Category, len(rules))
	for i, r := range rules {
		out[i] = r.category
	}
	return out
}

// AgentFor returns the agent that handles category c.
func AgentFor(c Category) (string, bool) {
	for _, r := range rules {
		if r.category == c {
			return r.agent, true
		}
	}
	return "", false
}

var simplifier = strings.NewReplacer(`(?:`, "", `)`, "", `\s+`, " ", `?:`, "")

// SupportedCommands lists readable pattern summaries per category.
func SupportedCommands() map[string][]string {
	out := make(map[string][]string, len(rules))
	for _, r := range rules {
		descs := make([]string, len(r.patterns))
		for i, re := range r.patterns {
			descs[i] = simplifier.Replace(re.String())
		}
		out[string(r.category)] = descs
	}
	return out
}

// Validate checks that a record is internally consistent.
func Validate(c ParsedCommand) error {
	var errs []error
	if c.CommandType == "" {
		errs = append(errs, errors.New("command_type is empty"))
	}
	if c.Parameters == nil {
		errs = append(errs, errors.New("parameters is nil"))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v out of range [0,1]", c.Confidence))
	}
	if c.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is zero"))
	}
	switch c.Outcome {
	case OutcomeMatched:
		if c.Agent == "" {
			errs = append(errs, errors.New("matched command has no agent"))
		}
	case OutcomeUnmatched:
		if c.CommandType != TypeGeneral {
			errs = append(errs, fmt.Errorf("unmatched command has type %q", c.CommandType))
		}
	case OutcomeError:
		if c.CommandType != TypeError {
			errs = append(errs, fmt.Errorf("error record has type %q", c.CommandType))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown outcome %q", c.Outcome))
	}
	return errors.Join(errs...)
}
