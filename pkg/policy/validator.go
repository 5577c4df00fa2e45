package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// CheckDeterministic rejects CEL constructs that would make a rule's
// outcome depend on anything but its inputs: wall-clock access and map
// iteration order. Policy verdicts feed audit records, so the same round
// statistics must always produce the same matches.
func CheckDeterministic(env *cel.Env, condition string) error {
	parsed, issues := env.Parse(condition)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("parse: %w", issues.Err())
	}

	var problems []string
	walk(parsed.Expr(), &problems) //nolint:staticcheck // no non-deprecated AST traversal yet
	if len(problems) > 0 {
		return fmt.Errorf("non-deterministic construct: %s", problems[0])
	}
	return nil
}

func walk(e *exprpb.Expr, problems *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*problems = append(*problems, "now() reads the wall clock")
		case "keys", "values":
			*problems = append(*problems, call.Function+"() iterates a map in unspecified order")
		}
		if call.Target != nil {
			walk(call.Target, problems)
		}
		for _, arg := range call.Args {
			walk(arg, problems)
		}

	case *exprpb.Expr_SelectExpr:
		walk(k.SelectExpr.Operand, problems)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walk(el, problems)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walk(entry.GetMapKey(), problems)
			}
			walk(entry.Value, problems)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walk(comp.IterRange, problems)
		walk(comp.AccuInit, problems)
		walk(comp.LoopCondition, problems)
		walk(comp.LoopStep, problems)
		walk(comp.Result, problems)
	}
}
