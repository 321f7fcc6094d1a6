package calc

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"2 ^ 10", 1024},
		{"2 ^ 3 ^ 2", 512}, // right associative
		{"-5 + 3", -2},
		{"2 * -3", -6},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
		{"100 - 30 - 20", 50}, // left associative
		{"((1))", 1},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	exprs := []string{
		"",
		"   ",
		"1 / 0",
		"5 % 0",
		"2 +",
		"* 3",
		"(1 + 2",
		"1 + 2)",
		"1 & 2",
		"1..2 + 3",
		"0 ^ -1", // infinite result
	}
	for _, expr := range exprs {
		if _, err := Evaluate(expr); err == nil {
			t.Errorf("Evaluate(%q) succeeded, want error", expr)
		}
	}
}

func TestExecuteFormatsResults(t *testing.T) {
	tool := New()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"expression":"6 * 7"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || result.Content != "42" {
		t.Errorf("result = %+v", result)
	}

	result, err = tool.Execute(context.Background(), json.RawMessage(`{"expression":"10 / 4"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "2.5" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteBadInput(t *testing.T) {
	tool := New()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"expression":""}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Errorf("empty expression accepted: %+v", result)
	}

	result, err = tool.Execute(context.Background(), json.RawMessage(`{"expression":"1 / 0"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Errorf("division by zero accepted: %+v", result)
	}
}

func TestDescribe(t *testing.T) {
	tool := New()
	if got := tool.Describe(json.RawMessage(`{"expression":"2+2"}`)); got != "Calculating 2+2..." {
		t.Errorf("Describe = %q", got)
	}
	if got := tool.Describe(json.RawMessage(`{}`)); got != "Calculating..." {
		t.Errorf("Describe with no expression = %q", got)
	}
}
