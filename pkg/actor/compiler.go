package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/llm"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
)

// compileMaxTokens bounds the compile completion; step lists are small.
const compileMaxTokens = 800

const compileSystemPrompt = `You convert an operator instruction into an executable JSON plan.
Respond with ONLY a JSON object of the form {"steps": [{"tool": "<tool>", "args": {...}}]}.

Available tools:
- shell.run: {"cmd": "<executable>", "args": ["<arg>", ...], "cwd": "<relative dir, optional>"}
- kubectl.run: {"args": ["<kubectl arg>", ...]}
- compose.run: {"args": ["<docker compose arg>", ...]}
- http.request: {"method": "GET", "url": "<url>"}
- fs.write: {"path": "<relative path>", "content": "<text>"}

Rules:
- Every kubectl operation that changes state must be followed by a verification step.
- Always pass the namespace explicitly with -n.
- Never invent tools outside the list above.

Example:
Instruction: Restart the hello deployment in sandbox namespace
{"steps": [{"tool": "kubectl.run", "args": {"args": ["rollout", "restart", "deployment/hello", "-n", "sandbox"]}}, {"tool": "kubectl.run", "args": {"args": ["rollout", "status", "deployment/hello", "-n", "sandbox"]}}]}

Example:
Instruction: Scale web-app deployment to 5 replicas in production
{"steps": [{"tool": "kubectl.run", "args": {"args": ["scale", "deployment/web-app", "--replicas=5", "-n", "production"]}}, {"tool": "kubectl.run", "args": {"args": ["rollout", "status", "deployment/web-app", "-n", "production"]}}]}`

// Compiler turns natural-language instructions into sandbox steps.
// Deterministic rules cover the common operations; everything else gets one
// model pass whose output is validated against the tool allow-list.
type Compiler struct {
	llm       llm.Client
	defaultNS string
	metrics   *metrics.Metrics
}

// NewCompiler builds a compiler. client may be nil, which disables the
// model pass and leaves rule-based compilation only.
func NewCompiler(client llm.Client, cfg *config.ActorConfig, m *metrics.Metrics) *Compiler {
	return &Compiler{
		llm:       client,
		defaultNS: cfg.DefaultNamespace,
		metrics:   m,
	}
}

// Compile produces the executable steps for an instruction. Rules run
// first; the model pass runs only when no rule matches, and a failed model
// pass gets one final rule attempt before the error surfaces.
func (c *Compiler) Compile(ctx context.Context, instructions string) ([]models.ExecStep, error) {
	text := strings.TrimSpace(instructions)
	if text == "" {
		return nil, errors.New("plan carries no instructions")
	}

	if steps := c.ruleCompile(text); len(steps) > 0 {
		return steps, nil
	}
	if c.llm == nil {
		return nil, fmt.Errorf("no rule matches %q and no compile model is configured", text)
	}

	steps, err := c.modelCompile(ctx, text)
	if err != nil {
		slog.Warn("Model compilation failed, retrying rules", "error", err)
		if steps := c.ruleCompile(text); len(steps) > 0 {
			return steps, nil
		}
		return nil, fmt.Errorf("failed to compile instructions: %w", err)
	}
	return steps, nil
}

// The instruction vocabulary names the deployment in slash form, before
// the keyword ("web-app deployment"), or after it ("deployment payments").
// Patterns run in that order and plain sentence words caught next to
// "deployment" are filtered out, so "restart the hello deployment" yields
// "hello", not "the".
var deploymentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`deployment/([a-z0-9][a-z0-9.-]*)`),
	regexp.MustCompile(`([a-z0-9][a-z0-9.-]*)\s+deployment\b`),
	regexp.MustCompile(`deployment\s+(?:named\s+|called\s+)?([a-z0-9][a-z0-9.-]*)`),
}

var sentenceWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"in": true, "to": true, "of": true, "on": true, "for": true,
	"and": true, "then": true, "up": true, "down": true, "by": true,
	"restart": true, "scale": true,
}

var namespacePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bin\s+(?:the\s+|a\s+)?([a-z0-9][a-z0-9-]*)\s+namespace`),
	regexp.MustCompile(`\bnamespace\s+([a-z0-9][a-z0-9-]*)`),
	regexp.MustCompile(`-n[= ]([a-z0-9][a-z0-9-]*)`),
	regexp.MustCompile(`\bin\s+(?:the\s+|a\s+)?([a-z0-9][a-z0-9-]*)\b`),
}

var replicaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`replicas?\s*=\s*(\d+)`),
	regexp.MustCompile(`\bto\s+(\d+)\b`),
	regexp.MustCompile(`(\d+)\s+replicas?\b`),
}

// ruleCompile matches the deterministic operation patterns. A match yields
// the operation plus a rollout-status verification, both wrapped through
// the shell so execution is identical on every platform.
func (c *Compiler) ruleCompile(instructions string) []models.ExecStep {
	text := strings.ToLower(instructions)
	name := deploymentName(text)
	if name == "" {
		return nil
	}
	target := "deployment/" + name
	ns := c.namespaceIn(text)

	switch {
	case strings.Contains(text, "restart"):
		return []models.ExecStep{
			kubectlStep("rollout", "restart", target, "-n", ns),
			kubectlStep("rollout", "status", target, "-n", ns),
		}
	case strings.Contains(text, "scale"):
		n, ok := replicaCount(text)
		if !ok {
			return nil
		}
		return []models.ExecStep{
			kubectlStep("scale", target, fmt.Sprintf("--replicas=%d", n), "-n", ns),
			kubectlStep("rollout", "status", target, "-n", ns),
		}
	}
	return nil
}

func deploymentName(text string) string {
	for _, p := range deploymentPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if name := m[1]; !sentenceWords[name] {
				return name
			}
		}
	}
	return ""
}

// namespaceIn extracts the target namespace, falling back to the default.
// The bare trailing form ("... 5 replicas in production") is accepted only
// after the explicit forms found nothing.
func (c *Compiler) namespaceIn(text string) string {
	for _, p := range namespacePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if ns := m[1]; !sentenceWords[ns] && ns != "namespace" {
				return ns
			}
		}
	}
	return c.defaultNS
}

func replicaCount(text string) (int, bool) {
	for _, p := range replicaPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// kubectlStep wraps one kubectl invocation in the portable shell form:
// cmd /c on Windows, translated to sh -c everywhere else by the sandbox.
func kubectlStep(args ...string) models.ExecStep {
	argv := append([]string{"/c", "kubectl"}, args...)
	return models.ExecStep{
		Tool: sandbox.ToolShellRun,
		Args: map[string]any{"cmd": "cmd", "args": argv},
	}
}

func (c *Compiler) modelCompile(ctx context.Context, instructions string) ([]models.ExecStep, error) {
	start := time.Now()
	resp, err := c.llm.Chat(ctx, llm.Request{
		System:      compileSystemPrompt,
		User:        "Instruction: " + instructions,
		Temperature: 0,
		MaxTokens:   compileMaxTokens,
		ForceJSON:   true,
	})
	c.metrics.ObserveLLM(time.Since(start))
	if err != nil {
		c.metrics.LLMRequest("error")
		return nil, fmt.Errorf("compile request failed: %w", err)
	}
	c.metrics.LLMRequest("ok")

	steps, err := decodeSteps(resp.Content)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if !sandbox.IsAllowedTool(step.Tool) {
			return nil, fmt.Errorf("compiled step uses unknown tool %q", step.Tool)
		}
	}
	return steps, nil
}

// compileResponse is the shape the compile prompt demands.
type compileResponse struct {
	Steps []any `json:"steps"`
}

// decodeSteps parses the completion into normalized steps, tolerating
// fenced output from endpoints that ignore JSON mode.
func decodeSteps(content string) ([]models.ExecStep, error) {
	text := strings.TrimSpace(content)
	if strings.Contains(text, "```") {
		text = stripFences(text)
	}

	var resp compileResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("compile response is not valid JSON: %w", err)
	}
	if len(resp.Steps) == 0 {
		return nil, errors.New("compile response carries no steps")
	}
	steps := sandbox.NormalizeRawSteps(resp.Steps)
	if len(steps) == 0 {
		return nil, errors.New("compile response steps are malformed")
	}
	return steps, nil
}

// stripFences removes a ```json ... ``` wrapper when present.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
