package sandbox

import (
	"github.com/kubeminder/kubeminder/pkg/models"
)

// placeholderCwds are literal placeholder values models copy out of the
// prompt examples instead of omitting the field.
var placeholderCwds = map[string]bool{
	`relative\path`: true,
	"relative/path": true,
	"":              true,
}

// cwdlessTools never accept a working directory: cluster and HTTP calls
// have no filesystem context.
var cwdlessTools = map[string]bool{
	ToolKubectlRun:  true,
	ToolHTTPRequest: true,
	ToolComposeRun:  true,
}

// allowedTools is the compile-time tool allow-list. Dispatch in Execute is
// the runtime authority; this set exists for validating compiled plans
// before anything runs.
var allowedTools = map[string]bool{
	ToolShellRun:    true,
	ToolHTTPRequest: true,
	ToolFSWrite:     true,
	ToolComposeRun:  true,
	ToolKubectlRun:  true,
}

// IsAllowedTool reports whether the tool name is dispatchable.
func IsAllowedTool(tool string) bool {
	return allowedTools[tool]
}

// NormalizeRawSteps rewrites loosely-shaped step objects from model output
// into canonical ExecSteps. Accepted shapes per element:
//
//	{"tool": "kubectl.run", "args": {…}}
//	{"kubectl.run": {…}}            (one-key shorthand)
//
// Anything else is dropped. Placeholder cwd values are scrubbed, and cwd is
// removed entirely for tools that do not take one.
func NormalizeRawSteps(raw []any) []models.ExecStep {
	steps := make([]models.ExecStep, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		var step models.ExecStep
		if tool, ok := obj["tool"].(string); ok {
			step.Tool = tool
			if args, ok := obj["args"].(map[string]any); ok {
				step.Args = args
			}
		} else if len(obj) == 1 {
			for tool, args := range obj {
				step.Tool = tool
				if m, ok := args.(map[string]any); ok {
					step.Args = m
				}
			}
		} else {
			continue
		}

		steps = append(steps, scrubStep(step))
	}
	return steps
}

// NormalizeSteps applies the same cwd scrubbing to already-typed steps,
// for plans that arrive with steps attached. Normalization is a fixed
// point: applying it twice changes nothing.
func NormalizeSteps(steps []models.ExecStep) []models.ExecStep {
	out := make([]models.ExecStep, 0, len(steps))
	for _, step := range steps {
		out = append(out, scrubStep(step))
	}
	return out
}

func scrubStep(step models.ExecStep) models.ExecStep {
	if step.Args == nil {
		step.Args = map[string]any{}
		return step
	}

	cwd, hasCwd := step.Args["cwd"]
	if !hasCwd {
		return step
	}
	cwdStr, _ := cwd.(string)
	if placeholderCwds[cwdStr] || cwdlessTools[step.Tool] {
		args := make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			if k != "cwd" {
				args[k] = v
			}
		}
		step.Args = args
	}
	return step
}
