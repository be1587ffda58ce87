// Package sandbox is the bounded effectful surface the executor runs plan
// steps through. Every tool returns a result map with an "ok" key; failures
// are content, not errors, so one bad step never tears down the consumer.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kubeminder/kubeminder/pkg/config"
)

// Tool names the sandbox dispatches on.
const (
	ToolShellRun    = "shell.run"
	ToolHTTPRequest = "http.request"
	ToolFSWrite     = "fs.write"
	ToolComposeRun  = "compose.run"
	ToolKubectlRun  = "kubectl.run"
)

// Result is the uniform tool outcome. Every result carries "ok"; the rest
// of the keys depend on the tool.
type Result map[string]any

// OK reports whether the result's "ok" key is true.
func (r Result) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// Sandbox executes allow-listed tools with all filesystem activity confined
// to a single root directory. Safe for concurrent use.
type Sandbox struct {
	root        string
	allowed     map[string]bool
	httpClient  *http.Client
	httpTimeout time.Duration
}

// New resolves the sandbox root to an absolute path and creates it. The
// executable allow-list and HTTP timeout come from config.
func New(cfg *config.SandboxConfig) (*Sandbox, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		c = strings.TrimSpace(c)
		if c != "" {
			allowed[c] = true
		}
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Sandbox{
		root:        root,
		allowed:     allowed,
		httpClient:  &http.Client{Timeout: timeout},
		httpTimeout: timeout,
	}, nil
}

// Root returns the resolved sandbox root directory.
func (s *Sandbox) Root() string {
	return s.root
}

// Execute dispatches one tool invocation. Unknown tools return an error
// result rather than failing the caller.
func (s *Sandbox) Execute(ctx context.Context, tool string, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	switch tool {
	case ToolShellRun:
		return s.shellRun(ctx, args)
	case ToolHTTPRequest:
		return s.httpRequest(ctx, args)
	case ToolFSWrite:
		return s.fsWrite(args)
	case ToolComposeRun:
		return s.composeRun(ctx, args)
	case ToolKubectlRun:
		return s.kubectlRun(ctx, args)
	default:
		return Result{"ok": false, "error": "Unknown tool"}
	}
}

// resolvePath joins parts under the root and rejects anything that resolves
// outside it.
func (s *Sandbox) resolvePath(parts ...string) (string, error) {
	target := filepath.Join(append([]string{s.root}, parts...)...)
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' escapes sandbox root", abs)
	}
	return abs, nil
}

// resolveCwd maps an optional relative cwd onto the root. The directory is
// not created; a missing cwd surfaces as a start error from the subprocess.
func (s *Sandbox) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return s.root, nil
	}
	return s.resolvePath(cwd)
}

func (s *Sandbox) shellRun(ctx context.Context, args map[string]any) Result {
	cmdName := stringArg(args, "cmd")
	argv := stringSliceArg(args, "args")
	env := stringMapArg(args, "env")

	if !s.allowed[cmdName] {
		return Result{"ok": false, "error": fmt.Sprintf("Command '%s' not allowed", cmdName)}
	}

	safeCwd, err := s.resolveCwd(stringArg(args, "cwd"))
	if err != nil {
		return Result{"ok": false, "error": err.Error()}
	}

	// Plans compiled for the Windows shell arrive as cmd /c <command …>.
	// Everywhere else that wrapper maps onto the POSIX shell.
	if cmdName == "cmd" && runtime.GOOS != "windows" {
		if len(argv) > 0 && argv[0] == "/c" {
			argv = argv[1:]
		}
		cmdName = "sh"
		argv = []string{"-c", strings.Join(argv, " ")}
	}

	cmd := exec.CommandContext(ctx, cmdName, argv...)
	cmd.Dir = safeCwd
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			// The process never ran: missing executable, bad cwd, cancelled
			// context before start.
			return Result{"ok": false, "error": runErr.Error(), "cwd": safeCwd}
		}
	}

	return Result{
		"ok":     runErr == nil,
		"stdout": stdout.String(),
		"stderr": stderr.String(),
		"code":   code,
		"cwd":    safeCwd,
	}
}

func (s *Sandbox) httpRequest(ctx context.Context, args map[string]any) Result {
	method := strings.ToUpper(stringArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	url := stringArg(args, "url")
	if url == "" {
		return Result{"ok": false, "error": "url is required"}
	}

	var body io.Reader
	if payload, ok := args["json"]; ok && payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Result{"ok": false, "error": fmt.Sprintf("failed to encode json body: %v", err)}
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return Result{"ok": false, "error": err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range stringMapArg(args, "headers") {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{"ok": false, "error": err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{"ok": false, "error": err.Error(), "status": resp.StatusCode}
	}

	return Result{
		"ok":     resp.StatusCode >= 200 && resp.StatusCode < 300,
		"status": resp.StatusCode,
		"body":   string(respBody),
	}
}

func (s *Sandbox) fsWrite(args map[string]any) Result {
	path := stringArg(args, "path")
	if path == "" {
		return Result{"ok": false, "error": "path is required"}
	}
	content := stringArg(args, "content")

	cwd := stringArg(args, "cwd")
	target, err := s.resolvePath(cwd, path)
	if err != nil {
		return Result{"ok": false, "error": err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Result{"ok": false, "error": err.Error()}
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return Result{"ok": false, "error": err.Error()}
	}

	return Result{"ok": true, "path": target}
}

// composeRun tries the modern plugin form first, then the legacy binary.
// Both pass through the shell.run allow-list, so compose only works where
// the operator has allowed docker.
func (s *Sandbox) composeRun(ctx context.Context, args map[string]any) Result {
	argv := stringSliceArg(args, "args")

	modern := map[string]any{
		"cmd":  "docker",
		"args": prepend("compose", argv),
		"cwd":  stringArg(args, "cwd"),
		"env":  args["env"],
	}
	res := s.shellRun(ctx, modern)
	if res.OK() {
		return res
	}

	slog.Debug("docker compose failed, trying docker-compose", "error", res["error"])
	legacy := map[string]any{
		"cmd":  "docker-compose",
		"args": argv,
		"cwd":  stringArg(args, "cwd"),
		"env":  args["env"],
	}
	return s.shellRun(ctx, legacy)
}

// kubectlRun is kubectl through the shell.run path. Cluster operations get
// no working directory; any cwd argument is ignored.
func (s *Sandbox) kubectlRun(ctx context.Context, args map[string]any) Result {
	return s.shellRun(ctx, map[string]any{
		"cmd":  "kubectl",
		"args": stringSliceArg(args, "args"),
		"env":  args["env"],
	})
}

func prepend(head string, rest []string) []string {
	out := make([]string, 0, len(rest)+1)
	out = append(out, head)
	return append(out, rest...)
}

// stringArg reads a string-valued key, tolerating absence.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// stringSliceArg reads a list of strings from either a typed or a decoded
// JSON slice. Non-string elements are rendered with %v.
func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			} else {
				out = append(out, fmt.Sprintf("%v", item))
			}
		}
		return out
	default:
		return nil
	}
}

// stringMapArg reads a string→string map from either a typed or a decoded
// JSON object.
func stringMapArg(args map[string]any, key string) map[string]string {
	switch v := args[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if str, ok := item.(string); ok {
				out[k] = str
			} else {
				out[k] = fmt.Sprintf("%v", item)
			}
		}
		return out
	default:
		return nil
	}
}
