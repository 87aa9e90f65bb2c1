package graphql

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// filterEnv declares the identifiers available to subscription filters.
var filterEnv = map[string]interface{}{
	"args": map[string]interface{}{},
	"data": nil,
}

// compileFilter compiles a filter expression, using the executor's cache.
func (e *Executor) compileFilter(expression string) (*vm.Program, error) {
	e.filterMu.RLock()
	program, ok := e.filters[expression]
	e.filterMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(filterEnv))
	if err != nil {
		return nil, err
	}

	e.filterMu.Lock()
	if existing, ok := e.filters[expression]; ok {
		program = existing
	} else {
		e.filters[expression] = program
	}
	e.filterMu.Unlock()

	return program, nil
}

// matchFilter reports whether an event passes the filter. An empty filter
// matches everything.
func (e *Executor) matchFilter(expression string, args map[string]interface{}, data interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compileFilter(expression)
	if err != nil {
		return false, fmt.Errorf("compile filter %q: %w", expression, err)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	out, err := expr.Run(program, map[string]interface{}{"args": args, "data": data})
	if err != nil {
		return false, fmt.Errorf("eval filter %q: %w", expression, err)
	}

	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", expression, out)
	}
	return keep, nil
}
