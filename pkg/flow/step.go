package flow

import "fmt"

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Interaction
	StepTapOn          StepType = "tapOn"
	StepScrollToAndTap StepType = "scrollToAndTap"
	StepSwipe          StepType = "swipe"
	StepScroll         StepType = "scroll"

	// Text
	StepInputText   StepType = "inputText"
	StepInputRandom StepType = "inputRandom"

	// Waits and assertions
	StepWaitFor    StepType = "waitFor"
	StepAssertText StepType = "assertText"
	StepAssertTrue StepType = "assertTrue"

	// Scripting
	StepRunScript       StepType = "runScript"
	StepDefineVariables StepType = "defineVariables"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// TapOnStep taps an element that is already on screen, waiting up to the
// step timeout for it to appear.
type TapOnStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// Describe returns a human-readable description.
func (s *TapOnStep) Describe() string {
	return fmt.Sprintf("tapOn %s", s.Selector.Describe())
}

// ScrollToAndTapStep scrolls until Target is on screen and taps it.
type ScrollToAndTapStep struct {
	BaseStep    `yaml:",inline"`
	Target      string `yaml:"text"`
	MaxAttempts int    `yaml:"maxAttempts"` // 0 = config default
}

// Describe returns a human-readable description.
func (s *ScrollToAndTapStep) Describe() string {
	return fmt.Sprintf("scrollToAndTap %q", s.Target)
}

// SwipeStep performs a swipe, either by direction or explicit coordinates.
type SwipeStep struct {
	BaseStep   `yaml:",inline"`
	Direction  string `yaml:"direction"` // UP, DOWN, LEFT, RIGHT
	Start      string `yaml:"start"`     // "x, y" in pixels
	End        string `yaml:"end"`
	DurationMs int    `yaml:"duration"`
}

// Describe returns a human-readable description.
func (s *SwipeStep) Describe() string {
	if s.Direction != "" {
		return fmt.Sprintf("swipe %s", s.Direction)
	}
	return fmt.Sprintf("swipe %s -> %s", s.Start, s.End)
}

// ScrollStep performs the configured scroll gesture once.
type ScrollStep struct {
	BaseStep `yaml:",inline"`
}

// InputTextStep types text into an element.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string   `yaml:"text"`
	Into     Selector `yaml:"into"`
}

// Describe returns a human-readable description.
func (s *InputTextStep) Describe() string {
	return fmt.Sprintf("inputText %q into %s", s.Text, s.Into.Describe())
}

// InputRandomStep types generated data into an element.
type InputRandomStep struct {
	BaseStep `yaml:",inline"`
	DataType string   `yaml:"type"` // TEXT, NUMBER, EMAIL, PERSON_NAME
	Length   int      `yaml:"length"`
	Into     Selector `yaml:"into"`
	As       string   `yaml:"as"` // variable receiving the generated value
}

// Describe returns a human-readable description.
func (s *InputRandomStep) Describe() string {
	return fmt.Sprintf("inputRandom %s into %s", s.DataType, s.Into.Describe())
}

// WaitForStep waits until an element is on screen.
type WaitForStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// Describe returns a human-readable description.
func (s *WaitForStep) Describe() string {
	return fmt.Sprintf("waitFor %s", s.Selector.Describe())
}

// AssertTextStep reads an element's text and compares it.
type AssertTextStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Equals   string   `yaml:"equals"`
	Contains string   `yaml:"contains"`
}

// Describe returns a human-readable description.
func (s *AssertTextStep) Describe() string {
	if s.Equals != "" {
		return fmt.Sprintf("assertText %s == %q", s.Selector.Describe(), s.Equals)
	}
	return fmt.Sprintf("assertText %s contains %q", s.Selector.Describe(), s.Contains)
}

// AssertTrueStep evaluates a JS condition.
type AssertTrueStep struct {
	BaseStep  `yaml:",inline"`
	Condition string `yaml:"condition"`
}

// Describe returns a human-readable description.
func (s *AssertTrueStep) Describe() string {
	return fmt.Sprintf("assertTrue %s", s.Condition)
}

// RunScriptStep runs inline JavaScript. Values assigned to output.* become
// flow variables.
type RunScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// DefineVariablesStep sets flow variables.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      map[string]string `yaml:"env"`
}
