package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// CalculatorTool evaluates a basic arithmetic expression, ported from
// the original project's ast-based safe evaluator (tools/calculator.py)
// using Go's own expression parser in place of Python's ast module.
type CalculatorTool struct{}

func (CalculatorTool) Info() Info {
	return Info{
		Name:        "calculate",
		Description: "Perform basic mathematical calculations",
		Parameters: []Parameter{
			{Name: "expression", Type: "string", Description: "Mathematical expression to evaluate (e.g. '2 + 2', '10 * 5')", Required: true},
		},
	}
}

type calculatorArgs struct {
	Expression string `json:"expression"`
}

func (CalculatorTool) Execute(_ context.Context, argumentsJSON string) (string, error) {
	var args calculatorArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}

	expr, err := parser.ParseExpr(args.Expression)
	if err != nil {
		return "", fmt.Errorf("parse expression: %w", err)
	}

	result, err := evalExpr(expr)
	if err != nil {
		return "", err
	}

	data, _ := json.Marshal(map[string]any{
		"expression": args.Expression,
		"result":     result,
		"message":    fmt.Sprintf("%s = %v", args.Expression, result),
	})
	return string(data), nil
}

func evalExpr(e ast.Expr) (float64, error) {
	switch n := e.(type) {
	case *ast.BasicLit:
		if n.Kind != token.FLOAT && n.Kind != token.INT {
			return 0, fmt.Errorf("unsupported literal: %s", n.Value)
		}
		var v float64
		_, err := fmt.Sscanf(n.Value, "%g", &v)
		return v, err

	case *ast.ParenExpr:
		return evalExpr(n.X)

	case *ast.UnaryExpr:
		x, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
		return 0, fmt.Errorf("unsupported unary operator: %s", n.Op)

	case *ast.BinaryExpr:
		x, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		y, err := evalExpr(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		case token.XOR:
			return float64(int64(x) ^ int64(y)), nil
		}
		return 0, fmt.Errorf("unsupported operator: %s", n.Op)

	default:
		return 0, fmt.Errorf("unsupported expression")
	}
}
