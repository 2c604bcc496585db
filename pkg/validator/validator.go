// Package validator checks flow files before execution.
// It parses every file upfront, applies tag filters, and reports all errors
// at once instead of failing on the first bad flow mid-run.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/gesture"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    int // 1-based; 0 for file-level errors
	Message string
}

func (e *ValidationError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("%s: step %d: %s", e.File, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Flows are the parsed flows that passed the tag filters, in path order.
	Flows []*flow.Flow
	// Filtered counts flows dropped by tag filters.
	Filtered int
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Err joins all errors into one, or returns nil.
func (r *Result) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%d invalid flow(s):\n  %s", len(r.Errors), strings.Join(msgs, "\n  "))
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates files and directories. Directories are searched
// recursively for .yaml/.yml flows; the workspace config file is skipped.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}
	seen := make(map[string]bool)

	for _, path := range paths {
		files, err := v.collect(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{File: path, Message: err.Error()})
			continue
		}
		for _, file := range files {
			if seen[file] {
				continue
			}
			seen[file] = true
			v.validateFile(file, result)
		}
	}
	return result
}

func (v *Validator) collect(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isFlowFile(p) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func isFlowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	base := filepath.Base(path)
	return base != "touchflow.yaml" && base != "touchflow.yml"
}

func (v *Validator) validateFile(file string, result *Result) {
	f, err := flow.ParseFile(file)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{File: file, Message: fmt.Sprintf("parse error: %v", err)})
		return
	}
	if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		result.Filtered++
		return
	}

	valid := true
	for i, step := range f.Steps {
		if err := checkStep(step); err != nil {
			result.Errors = append(result.Errors, &ValidationError{File: file, Step: i + 1, Message: err.Error()})
			valid = false
		}
	}
	if valid {
		result.Flows = append(result.Flows, f)
	}
}

// checkStep catches errors the parser cannot see: swipe directions and
// JavaScript syntax.
func checkStep(step flow.Step) error {
	switch s := step.(type) {
	case *flow.SwipeStep:
		if s.Direction == "" {
			return nil
		}
		dir := gesture.Direction(strings.ToLower(s.Direction))
		switch dir {
		case gesture.Up, gesture.Down, gesture.Left, gesture.Right:
			return nil
		}
		return fmt.Errorf("swipe: unknown direction %q (want UP, DOWN, LEFT or RIGHT)", s.Direction)

	case *flow.RunScriptStep:
		if _, err := goja.Compile("runScript", s.Script, false); err != nil {
			return fmt.Errorf("runScript: %v", err)
		}

	case *flow.AssertTrueStep:
		cond := strings.TrimSpace(s.Condition)
		if strings.HasPrefix(cond, "${") && strings.HasSuffix(cond, "}") {
			cond = cond[2 : len(cond)-1]
		}
		if _, err := goja.Compile("assertTrue", cond, false); err != nil {
			return fmt.Errorf("assertTrue: %v", err)
		}
	}
	return nil
}
