package executor

import (
	"strings"
	"testing"

	"github.com/devicelab-dev/touchflow/pkg/flow"
)

func TestScriptEngine_SetVariable(t *testing.T) {
	se := NewScriptEngine()

	se.SetVariable("USERNAME", "john")
	se.SetVariables(map[string]string{"COUNT": "42"})

	if got := se.GetVariable("USERNAME"); got != "john" {
		t.Errorf("GetVariable(USERNAME) = %q, want %q", got, "john")
	}
	if got := se.GetVariable("COUNT"); got != "42" {
		t.Errorf("GetVariable(COUNT) = %q, want %q", got, "42")
	}
}

func TestScriptEngine_ExpandVariables(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("USER", "john")
	se.SetVariable("USER_NAME", "John Doe")

	tests := []struct {
		input string
		want  string
	}{
		{"Hello ${USER}", "Hello john"},
		{"Hello $USER", "Hello john"},
		{"$USER_NAME", "John Doe"},
		{"$USERX stays", "$USERX stays"},
		{"${USER.toUpperCase()}", "JOHN"},
		{"no vars", "no vars"},
		{"${missing.value}", "${missing.value}"},
	}
	for _, tt := range tests {
		if got := se.ExpandVariables(tt.input); got != tt.want {
			t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExpandDollarVar(t *testing.T) {
	tests := []struct {
		text, name, value, want string
	}{
		{"$A and $A", "A", "x", "x and x"},
		{"$AB", "A", "x", "$AB"},
		{"$A_1", "A", "x", "$A_1"},
		{"end $A", "A", "", "end "},
	}
	for _, tt := range tests {
		if got := expandDollarVar(tt.text, tt.name, tt.value); got != tt.want {
			t.Errorf("expandDollarVar(%q, %q) = %q, want %q", tt.text, tt.name, got, tt.want)
		}
	}
}

func TestScriptEngine_EvalCondition(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("COUNT", "3")

	tests := []struct {
		cond string
		want bool
	}{
		{"COUNT == 3", true},
		{"${COUNT > 5}", false},
		{"$COUNT === '3'", false}, // $COUNT expands to a bare 3
		{"UNDEFINED_FLAG", false},
		{"!UNDEFINED_FLAG", true},
	}
	for _, tt := range tests {
		got, err := se.EvalCondition(tt.cond)
		if err != nil {
			t.Fatalf("EvalCondition(%q) error = %v", tt.cond, err)
		}
		if got != tt.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}

	if _, err := se.EvalCondition("lowercase_missing.x"); err == nil {
		t.Error("expected ReferenceError for undeclared lowercase name")
	}
}

func TestScriptEngine_ExecuteRunScript(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("BASE", "https://example.com")

	err := se.ExecuteRunScript(&flow.RunScriptStep{Script: "output.url = BASE + '/books'; output.count = 2"})
	if err != nil {
		t.Fatalf("ExecuteRunScript() error = %v", err)
	}
	if got := se.GetVariable("url"); got != "https://example.com/books" {
		t.Errorf("url = %q", got)
	}
	if got := se.GetVariable("count"); got != "2" {
		t.Errorf("count = %q", got)
	}

	err = se.ExecuteRunScript(&flow.RunScriptStep{Script: "throw new Error('boom')"})
	if err == nil || !strings.Contains(err.Error(), "script execution failed") {
		t.Errorf("error = %v", err)
	}
}

func TestScriptEngine_ExecuteDefineVariables(t *testing.T) {
	se := NewScriptEngine()
	se.SetVariable("HOST", "staging")

	err := se.ExecuteDefineVariables(&flow.DefineVariablesStep{Env: map[string]string{
		"A_URL": "https://${HOST}.example.com",
		"B_URL": "$A_URL/login",
	}})
	if err != nil {
		t.Fatalf("ExecuteDefineVariables() error = %v", err)
	}
	if got := se.GetVariable("A_URL"); got != "https://staging.example.com" {
		t.Errorf("A_URL = %q", got)
	}
	if got := se.GetVariable("B_URL"); got != "https://staging.example.com/login" {
		t.Errorf("B_URL = %q", got)
	}
}

func TestScriptEngine_ExecuteAssertTrue(t *testing.T) {
	se := NewScriptEngine()
	se.SetLastText("Harry Potter")

	if err := se.ExecuteAssertTrue(&flow.AssertTrueStep{Condition: "touchflow.lastText.startsWith('Harry')"}); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
	err := se.ExecuteAssertTrue(&flow.AssertTrueStep{Condition: "touchflow.lastText === ''"})
	if err == nil || !strings.Contains(err.Error(), "assertTrue failed") {
		t.Errorf("error = %v", err)
	}
	err = se.ExecuteAssertTrue(&flow.AssertTrueStep{Condition: "("})
	if err == nil || !strings.Contains(err.Error(), "evaluation failed") {
		t.Errorf("error = %v", err)
	}
}

func TestScriptEngine_ImportSystemEnv(t *testing.T) {
	t.Setenv("TOUCHFLOW_TEST_TOKEN", "abc")
	t.Setenv("lower_case_var", "skip")

	se := NewScriptEngine()
	se.ImportSystemEnv()

	if got := se.GetVariable("TOUCHFLOW_TEST_TOKEN"); got != "abc" {
		t.Errorf("TOUCHFLOW_TEST_TOKEN = %q", got)
	}
	if got := se.GetVariable("lower_case_var"); got != "" {
		t.Errorf("lower_case_var imported: %q", got)
	}
}
