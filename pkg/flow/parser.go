package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/touchflow/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow YAML content. A flow is either a step list, or a config
// document followed by "---" and a step list.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	docs, err := decodeDocuments(data)
	if err != nil {
		return nil, &ParseError{Path: sourcePath, Message: err.Error()}
	}

	flow := &Flow{SourcePath: sourcePath}

	switch len(docs) {
	case 0:
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	case 1:
		err = parseSteps(&docs[0], flow)
	case 2:
		if err = docs[0].Decode(&flow.Config); err != nil {
			return nil, wrapParseError(sourcePath, docs[0].Line, fmt.Errorf("invalid config: %w", err))
		}
		err = parseSteps(&docs[1], flow)
	default:
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("expected at most 2 YAML documents, got %d", len(docs))}
	}
	if err != nil {
		return nil, err
	}
	return flow, nil
}

func decodeDocuments(data []byte) ([]yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			continue
		}
		docs = append(docs, *doc.Content[0])
	}
}

func parseSteps(node *yaml.Node, flow *Flow) error {
	if node.Kind != yaml.SequenceNode {
		return &ParseError{Path: flow.SourcePath, Line: node.Line, Message: "steps must be a list"}
	}

	for _, item := range node.Content {
		step, err := parseStep(item, flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Scalar steps like "- scroll" (no colon, no params)
	if node.Kind == yaml.ScalarNode {
		if !isStepType(node.Value) {
			return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("unknown step type: %s", node.Value)}
		}
		return decodeStep(StepType(node.Value), &yaml.Node{Kind: yaml.MappingNode, Line: node.Line}, sourcePath)
	}

	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "step must be a single-key mapping or command name"}
	}

	key := node.Content[0].Value
	if !isStepType(key) {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("unknown step type: %s", key)}
	}
	return decodeStep(StepType(key), node.Content[1], sourcePath)
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepTapOn, StepScrollToAndTap, StepSwipe, StepScroll,
		StepInputText, StepInputRandom,
		StepWaitFor, StepAssertText, StepAssertTrue,
		StepRunScript, StepDefineVariables:
		return true
	}
	return false
}

// decodeStep decodes the step body. Scalar bodies fill the step's primary field.
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	scalar := valueNode.Kind == yaml.ScalarNode
	decode := func(v interface{}) error {
		if err := valueNode.Decode(v); err != nil {
			return wrapParseError(sourcePath, valueNode.Line, err)
		}
		return nil
	}

	var step Step
	switch stepType {
	case StepTapOn:
		s := &TapOnStep{}
		if scalar {
			s.Selector.Text = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepScrollToAndTap:
		s := &ScrollToAndTapStep{}
		if scalar {
			s.Target = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepSwipe:
		s := &SwipeStep{}
		if scalar {
			s.Direction = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepScroll:
		s := &ScrollStep{}
		if !scalar {
			if err := decode(s); err != nil {
				return nil, err
			}
		}
		step = s

	case StepInputText:
		s := &InputTextStep{}
		if scalar {
			s.Text = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepInputRandom:
		s := &InputRandomStep{}
		if scalar {
			s.DataType = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepWaitFor:
		s := &WaitForStep{}
		if scalar {
			s.Selector.Text = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepAssertText:
		s := &AssertTextStep{}
		if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepAssertTrue:
		s := &AssertTrueStep{}
		if scalar {
			s.Condition = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepRunScript:
		s := &RunScriptStep{}
		if scalar {
			s.Script = valueNode.Value
		} else if err := decode(s); err != nil {
			return nil, err
		}
		step = s

	case StepDefineVariables:
		s := &DefineVariablesStep{}
		if err := valueNode.Decode(&s.Env); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = s

	default:
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("unknown step type: %s", stepType)}
	}

	setType(step, stepType)
	if err := validateStep(step); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, fmt.Errorf("%s: %w", stepType, err))
	}
	return step, nil
}

func setType(step Step, t StepType) {
	if b, ok := step.(interface{ base() *BaseStep }); ok {
		b.base().StepType = t
	}
}

func (b *BaseStep) base() *BaseStep { return b }

func validateStep(step Step) error {
	switch s := step.(type) {
	case *TapOnStep:
		if s.Selector.IsEmpty() {
			return fmt.Errorf("selector required")
		}
	case *WaitForStep:
		if s.Selector.IsEmpty() {
			return fmt.Errorf("selector required")
		}
	case *ScrollToAndTapStep:
		if s.Target == "" {
			return fmt.Errorf("text required")
		}
		if s.MaxAttempts < 0 {
			return fmt.Errorf("maxAttempts must be > 0")
		}
	case *SwipeStep:
		if s.Direction == "" && (s.Start == "" || s.End == "") {
			return fmt.Errorf("direction or start/end required")
		}
		if s.Direction == "" {
			if _, err := ParsePoint(s.Start); err != nil {
				return err
			}
			if _, err := ParsePoint(s.End); err != nil {
				return err
			}
		}
		if s.DurationMs < 0 {
			return fmt.Errorf("duration must be >= 0")
		}
	case *InputTextStep:
		if s.Into.IsEmpty() {
			return fmt.Errorf("into selector required")
		}
	case *InputRandomStep:
		if s.Into.IsEmpty() {
			return fmt.Errorf("into selector required")
		}
		if !IsRandomType(s.DataType) {
			return fmt.Errorf("unknown random type %q", s.DataType)
		}
	case *AssertTextStep:
		if s.Selector.IsEmpty() {
			return fmt.Errorf("selector required")
		}
		if s.Equals == "" && s.Contains == "" {
			return fmt.Errorf("equals or contains required")
		}
	case *AssertTrueStep:
		if strings.TrimSpace(s.Condition) == "" {
			return fmt.Errorf("condition required")
		}
	case *RunScriptStep:
		if strings.TrimSpace(s.Script) == "" {
			return fmt.Errorf("script required")
		}
	}
	return nil
}

// ParsePoint parses "x, y" pixel coordinates.
func ParsePoint(s string) (core.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.Point{}, fmt.Errorf("invalid point %q: want \"x, y\"", s)
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return core.Point{}, fmt.Errorf("invalid point %q: want integer pixels", s)
	}
	return core.Point{X: x, Y: y}, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML files in a directory, sorted by path.
func ParseDirectory(dir string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		// workspace config lives next to flows
		if base := filepath.Base(path); base == "touchflow.yaml" || base == "touchflow.yml" {
			return nil
		}

		flow, err := ParseFile(path)
		if err != nil {
			return err
		}
		flows = append(flows, flow)
		return nil
	})

	return flows, err
}
