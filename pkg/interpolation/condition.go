package interpolation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

var celVariables = []string{"input", "variables", "metadata", "execution"}

// DefaultCacheSize bounds how many compiled programs each dialect keeps.
const DefaultCacheSize = 512

// Evaluator compiles and caches expressions. It is safe for concurrent use. Only
// expressions written without placeholders are cached; an interpolated expression changes
// with its data and is compiled per call.
type Evaluator struct {
	programs *lru.Cache[string, *vm.Program]

	celOnce sync.Once
	celEnv  *cel.Env
	celErr  error
	celPrgs *lru.Cache[string, cel.Program]
}

// NewEvaluator creates an evaluator with empty caches of DefaultCacheSize entries.
func NewEvaluator() *Evaluator {
	return NewEvaluatorWithCacheSize(DefaultCacheSize)
}

// NewEvaluatorWithCacheSize creates an evaluator whose caches hold at most size programs per
// dialect. A size below one falls back to DefaultCacheSize.
func NewEvaluatorWithCacheSize(size int) *Evaluator {
	if size < 1 {
		size = DefaultCacheSize
	}

	// lru.New only fails for a non-positive size.
	programs, _ := lru.New[string, *vm.Program](size)
	celPrgs, _ := lru.New[string, cel.Program](size)

	return &Evaluator{programs: programs, celPrgs: celPrgs}
}

var defaultEvaluator = NewEvaluator()

// EvaluateCondition interpolates expression against scope and evaluates the result as a
// boolean expression with the scope keys bound as names. Any failure yields false.
func EvaluateCondition(expression string, scope map[string]any) bool {
	return defaultEvaluator.Condition(expression, scope)
}

// EvaluateCEL is EvaluateCondition for the CEL dialect.
func EvaluateCEL(expression string, scope map[string]any) bool {
	return defaultEvaluator.CELCondition(expression, scope)
}

// Evaluate runs an expr-lang expression against scope and returns its value.
func Evaluate(expression string, scope map[string]any) (any, error) {
	return defaultEvaluator.Evaluate(expression, scope)
}

// Condition is the method form of EvaluateCondition.
func (e *Evaluator) Condition(expression string, scope map[string]any) bool {
	resolved, ok := resolveCondition(expression, scope)
	if !ok {
		return false
	}

	if value, isBool := resolved.(bool); isBool {
		return value
	}

	text, isString := resolved.(string)
	if !isString {
		return false
	}

	out, err := e.evaluate(rewriteStrictEquality(text), scope, text == expression)
	if err != nil {
		return false
	}

	value, isBool := out.(bool)

	return isBool && value
}

// Evaluate compiles (or reuses) an expr-lang program and runs it with scope as environment.
func (e *Evaluator) Evaluate(expression string, scope map[string]any) (any, error) {
	return e.evaluate(expression, scope, true)
}

func (e *Evaluator) evaluate(expression string, scope map[string]any, cache bool) (value any, err error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("empty expression")
	}

	program, err := e.compile(expression, cache)
	if err != nil {
		return nil, err
	}

	env := scope
	if env == nil {
		env = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("expression %q panicked: %v", expression, r)
		}
	}()

	out, err := vm.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}

	return out, nil
}

func (e *Evaluator) compile(expression string, cache bool) (*vm.Program, error) {
	if program, ok := e.programs.Get(expression); ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	if cache {
		e.programs.Add(expression, program)
	}

	return program, nil
}

// CELCondition evaluates a CEL expression after interpolation. Missing top level names are
// bound to empty maps. Any failure yields false.
func (e *Evaluator) CELCondition(expression string, scope map[string]any) bool {
	resolved, ok := resolveCondition(expression, scope)
	if !ok {
		return false
	}

	if value, isBool := resolved.(bool); isBool {
		return value
	}

	text, isString := resolved.(string)
	if !isString {
		return false
	}

	program, err := e.compileCEL(text, text == expression)
	if err != nil {
		return false
	}

	activation := make(map[string]any, len(celVariables))

	for _, name := range celVariables {
		if value, ok := scope[name]; ok && value != nil {
			activation[name] = value
		} else {
			activation[name] = map[string]any{}
		}
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false
	}

	value, isBool := out.Value().(bool)

	return isBool && value
}

func (e *Evaluator) compileCEL(expression string, cache bool) (cel.Program, error) {
	e.celOnce.Do(func() {
		options := make([]cel.EnvOption, 0, len(celVariables))
		for _, name := range celVariables {
			options = append(options, cel.Variable(name, cel.DynType))
		}

		e.celEnv, e.celErr = cel.NewEnv(options...)
	})

	if e.celErr != nil {
		return nil, fmt.Errorf("create CEL environment: %w", e.celErr)
	}

	if program, ok := e.celPrgs.Get(expression); ok {
		return program, nil
	}

	ast, issues := e.celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expression, issues.Err())
	}

	program, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error for %q: %w", expression, err)
	}

	if cache {
		e.celPrgs.Add(expression, program)
	}

	return program, nil
}

func resolveCondition(expression string, scope map[string]any) (any, bool) {
	if strings.TrimSpace(expression) == "" {
		return nil, false
	}

	return Interpolate(expression, scope), true
}

// rewriteStrictEquality turns the === and !== operators into == and != while leaving quoted
// string literals untouched.
func rewriteStrictEquality(expression string) string {
	if !strings.Contains(expression, "==") {
		return expression
	}

	var b strings.Builder

	b.Grow(len(expression))

	var quote byte

	for i := 0; i < len(expression); i++ {
		c := expression[i]

		if quote != 0 {
			b.WriteByte(c)

			switch {
			case c == '\\' && quote != '`' && i+1 < len(expression):
				i++
				b.WriteByte(expression[i])
			case c == quote:
				quote = 0
			}

			continue
		}

		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case strings.HasPrefix(expression[i:], "==="):
			b.WriteString("==")
			i += 2

			continue
		case strings.HasPrefix(expression[i:], "!=="):
			b.WriteString("!=")
			i += 2

			continue
		}

		b.WriteByte(c)
	}

	return b.String()
}
