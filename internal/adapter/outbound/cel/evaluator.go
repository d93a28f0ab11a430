// Package cel provides a CEL-based evaluator for genome capability
// grant conditions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
)

// maxExpressionLength is the maximum allowed length for a condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates capability grant conditions.
// Compiled programs are cached by expression hash, so steady-state
// evaluation never re-parses.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[uint64]cel.Program
}

// NewEvaluator creates a CEL evaluator with the grant-condition
// environment: actor, action, risk_class, and payload_size variables.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("risk_class", cel.StringType),
		cel.Variable("payload_size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[uint64]cel.Program),
	}, nil
}

// Compile parses and type-checks a condition, returning a program with
// runtime safety limits applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the
// maximum allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a condition is syntactically valid and
// safe: length and nesting limits plus a full compile.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid condition expression: %w", err)
	}

	return nil
}

// Evaluate runs a condition against the grant input. The compiled
// program is cached by expression hash. Evaluation uses ContextEval
// with a timeout so a pathological expression cannot hang a decision.
func (e *Evaluator) Evaluate(expression string, input decision.ConditionInput) (bool, error) {
	key := canon.CacheKey("cond", expression)

	e.mu.RLock()
	prg, ok := e.cache[key]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.Compile(expression)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[key] = prg
		e.mu.Unlock()
	}

	activation := map[string]interface{}{
		"actor":        input.Actor,
		"action":       input.ActionID,
		"risk_class":   input.RiskClass,
		"payload_size": input.PayloadSize,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

// Compile-time interface verification.
var _ decision.ConditionEvaluator = (*Evaluator)(nil)
