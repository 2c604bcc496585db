package executor

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/jsengine"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// ScriptEngine holds flow variables and evaluates scripting steps.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// SetVariable sets a variable in both Go map and JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// ImportSystemEnv imports upper-case environment variables (THING, MY_VAR).
func (se *ScriptEngine) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.FindString(name) == name {
			se.SetVariable(name, value)
		}
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// SetPlatform sets the platform in the JS engine.
func (se *ScriptEngine) SetPlatform(platform string) {
	se.js.SetPlatform(platform)
}

// SetLastText exposes text read by assertText as touchflow.lastText.
func (se *ScriptEngine) SetLastText(text string) {
	se.js.SetLastText(text)
}

// syncOutputToVariables copies values assigned to output.* back to variables.
func (se *ScriptEngine) syncOutputToVariables() {
	for k, v := range se.js.GetOutput() {
		se.SetVariable(k, fmt.Sprintf("%v", v))
	}
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	return se.expandDollarVars(se.js.ExpandVariables(text))
}

// expandDollarVars expands $VAR syntax (without braces) using stored variables.
func (se *ScriptEngine) expandDollarVars(text string) string {
	// longest first so $NAME_FULL is not eaten by $NAME
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		endPos := pos + len(pattern)
		if endPos < len(text) && isIdentChar(text[endPos]) {
			idx = endPos
			continue
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

// declareReferenced makes unset ALL_CAPS names in script evaluate as undefined.
func (se *ScriptEngine) declareReferenced(script string) {
	for _, name := range envVarPattern.FindAllString(script, -1) {
		se.js.DeclareIfMissing(name)
	}
}

// RunScript executes a script and promotes output.* to flow variables.
func (se *ScriptEngine) RunScript(script string) error {
	script = se.expandDollarVars(script)
	se.declareReferenced(script)

	if err := se.js.RunScript(script); err != nil {
		return err
	}
	se.syncOutputToVariables()
	return nil
}

// EvalCondition evaluates a script condition and returns true/false.
func (se *ScriptEngine) EvalCondition(script string) (bool, error) {
	script = extractJS(script)
	script = se.expandDollarVars(script)
	se.declareReferenced(script)
	return se.js.EvalBool(script)
}

// extractJS strips a ${...} wrapper around a whole condition.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ExecuteDefineVariables handles defineVariables step.
func (se *ScriptEngine) ExecuteDefineVariables(step *flow.DefineVariablesStep) error {
	// sorted so later definitions can reference earlier ones deterministically
	names := make([]string, 0, len(step.Env))
	for k := range step.Env {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		se.SetVariable(k, se.ExpandVariables(step.Env[k]))
	}
	return nil
}

// ExecuteRunScript handles runScript step.
func (se *ScriptEngine) ExecuteRunScript(step *flow.RunScriptStep) error {
	if err := se.RunScript(step.Script); err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}

// ExecuteAssertTrue handles assertTrue step.
func (se *ScriptEngine) ExecuteAssertTrue(step *flow.AssertTrueStep) error {
	ok, err := se.EvalCondition(step.Condition)
	if err != nil {
		return fmt.Errorf("assertion evaluation failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("assertTrue failed: %s", step.Condition)
	}
	return nil
}

// expandSelector expands variables in selector fields and returns a copy.
func (se *ScriptEngine) expandSelector(sel flow.Selector) flow.Selector {
	return sel.Expand(se.ExpandVariables)
}
