// Package redact masks credentials and other sensitive material in text
// that leaves the pipeline: sandbox step outputs before they are published
// or persisted, and log lines quoted into LLM prompts.
package redact

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the source form before compilation.
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
	description string
}

// builtinPatterns covers the credential shapes that show up in kubectl
// output, pod logs, and environment dumps. Order matters: the PEM block
// pattern runs before the key/value sweeps so certificate bodies are not
// shredded line by line.
var builtinPatterns = []builtinPattern{
	{
		name:        "certificate",
		pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		replacement: `***MASKED_CERTIFICATE***`,
		description: "PEM certificate and key blocks",
	},
	{
		name:        "api_key",
		pattern:     `(?i)((?:api[_-]?key|apikey)["']?\s*[:=]\s*)["']?[A-Za-z0-9_\-]{16,}["']?`,
		replacement: `${1}***MASKED_API_KEY***`,
		description: "API keys",
	},
	{
		name:        "password",
		pattern:     `(?i)((?:password|passwd|pwd)["']?\s*[:=]\s*)["']?[^"'\s\n]{6,}["']?`,
		replacement: `${1}***MASKED_PASSWORD***`,
		description: "Passwords",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{16,}`,
		replacement: `Bearer ***MASKED_TOKEN***`,
		description: "Bearer tokens in headers",
	},
	{
		name:        "token",
		pattern:     `(?i)((?:token|jwt)["']?\s*[:=]\s*)["']?[A-Za-z0-9_\-\.]{20,}["']?`,
		replacement: `${1}***MASKED_TOKEN***`,
		description: "Access tokens",
	},
	{
		name:        "ssh_key",
		pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		replacement: `***MASKED_SSH_KEY***`,
		description: "SSH public keys",
	},
	{
		name:        "aws_access_key",
		pattern:     `\bAKIA[A-Z0-9]{16}\b`,
		replacement: `***MASKED_AWS_KEY***`,
		description: "AWS access key IDs",
	},
	{
		name:        "github_token",
		pattern:     `\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`,
		replacement: `***MASKED_GITHUB_TOKEN***`,
		description: "GitHub tokens",
	},
	{
		name:        "slack_token",
		pattern:     `\bxox[baprs]-[A-Za-z0-9-]{10,72}\b`,
		replacement: `***MASKED_SLACK_TOKEN***`,
		description: "Slack tokens",
	},
}

// Redactor applies the built-in pattern set. Stateless after construction
// and safe for concurrent use.
type Redactor struct {
	patterns []*CompiledPattern
}

// New compiles the built-in patterns eagerly. Invalid patterns are logged
// and skipped rather than failing startup.
func New() *Redactor {
	r := &Redactor{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		r.patterns = append(r.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
	return r
}

// Mask applies every pattern to s. A nil Redactor passes text through.
func (r *Redactor) Mask(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// MaskLines masks each line independently and returns a new slice.
func (r *Redactor) MaskLines(lines []string) []string {
	if r == nil || len(lines) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = r.Mask(line)
	}
	return out
}

// MaskValue masks string values inside arbitrarily nested JSON-shaped
// data (maps, slices, strings). Non-string leaves pass through untouched.
func (r *Redactor) MaskValue(v any) any {
	if r == nil {
		return v
	}
	switch val := v.(type) {
	case string:
		return r.Mask(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = r.MaskValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = r.MaskValue(inner)
		}
		return out
	default:
		return v
	}
}

// MaskOutputs masks every step output map in place of a copy; the input
// slice is not modified.
func (r *Redactor) MaskOutputs(outputs []map[string]any) []map[string]any {
	if r == nil || len(outputs) == 0 {
		return outputs
	}
	out := make([]map[string]any, len(outputs))
	for i, m := range outputs {
		out[i] = r.MaskValue(m).(map[string]any)
	}
	return out
}
