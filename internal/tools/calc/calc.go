// Package calc implements an arithmetic expression tool. Expressions are
// evaluated locally with a shunting-yard parser, so no model round-trip or
// network access is involved.
package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/loopwork/factotum/internal/agent"
)

// Tool evaluates arithmetic expressions.
type Tool struct{}

// New creates the calculator tool.
func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return "calculate"
}

func (t *Tool) Description() string {
	return "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, and decimal numbers."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {
				"type": "string",
				"description": "The arithmetic expression to evaluate, e.g. \"(2 + 3) * 4.5\""
			}
		},
		"required": ["expression"]
	}`)
}

func (t *Tool) Describe(params json.RawMessage) string {
	var p struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Expression == "" {
		return "Calculating..."
	}
	return fmt.Sprintf("Calculating %s...", p.Expression)
}

func (t *Tool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(p.Expression) == "" {
		return &agent.ToolResult{Content: "expression parameter is required", IsError: true}, nil
	}

	value, err := Evaluate(p.Expression)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: formatNumber(value)}, nil
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', 12, 64)
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOperator
	tokLeftParen
	tokRightParen
)

type token struct {
	kind  tokenKind
	value float64
	op    byte
}

// Evaluate parses and computes an infix arithmetic expression.
func Evaluate(expr string) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	rpn, err := toRPN(tokens)
	if err != nil {
		return 0, err
	}
	return evalRPN(rpn)
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", expr[i:j])
			}
			tokens = append(tokens, token{kind: tokNumber, value: v})
			i = j
		case c == '(':
			tokens = append(tokens, token{kind: tokLeftParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRightParen})
			i++
		case strings.IndexByte("+-*/%^", c) >= 0:
			// A minus at the start or after an operator or open paren
			// negates the operand. 'u' is the internal unary-minus op.
			if c == '-' && expectsOperand(tokens) {
				tokens = append(tokens, token{kind: tokOperator, op: 'u'})
			} else {
				tokens = append(tokens, token{kind: tokOperator, op: c})
			}
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q in expression", string(c))
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	return tokens, nil
}

func expectsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokOperator || last.kind == tokLeftParen
}

func precedence(op byte) int {
	switch op {
	case '^', 'u':
		return 3
	case '*', '/', '%':
		return 2
	default:
		return 1
	}
}

func rightAssoc(op byte) bool {
	return op == '^' || op == 'u'
}

// toRPN converts infix tokens to reverse Polish notation via shunting-yard.
func toRPN(tokens []token) ([]token, error) {
	var output []token
	var stack []token

	for _, tok := range tokens {
		switch tok.kind {
		case tokNumber:
			output = append(output, tok)
		case tokOperator:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.kind != tokOperator {
					break
				}
				if precedence(top.op) > precedence(tok.op) ||
					(precedence(top.op) == precedence(tok.op) && !rightAssoc(tok.op)) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, tok)
		case tokLeftParen:
			stack = append(stack, tok)
		case tokRightParen:
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.kind == tokLeftParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, fmt.Errorf("mismatched parentheses")
			}
		}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.kind == tokLeftParen {
			return nil, fmt.Errorf("mismatched parentheses")
		}
		output = append(output, top)
	}
	return output, nil
}

func evalRPN(rpn []token) (float64, error) {
	var stack []float64
	for _, tok := range rpn {
		if tok.kind == tokNumber {
			stack = append(stack, tok.value)
			continue
		}
		if tok.op == 'u' {
			if len(stack) < 1 {
				return 0, fmt.Errorf("malformed expression")
			}
			stack[len(stack)-1] = -stack[len(stack)-1]
			continue
		}
		if len(stack) < 2 {
			return 0, fmt.Errorf("malformed expression")
		}
		b := stack[len(stack)-1]
		a := stack[len(stack)-2]
		stack = stack[:len(stack)-2]

		var v float64
		switch tok.op {
		case '+':
			v = a + b
		case '-':
			v = a - b
		case '*':
			v = a * b
		case '/':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v = a / b
		case '%':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v = math.Mod(a, b)
		case '^':
			v = math.Pow(a, b)
		}
		stack = append(stack, v)
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	result := stack[0]
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("expression result is not a finite number")
	}
	return result, nil
}

var _ agent.Tool = (*Tool)(nil)
