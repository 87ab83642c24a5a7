package document

import (
	"fmt"
	"sync"

	"github.com/antchfx/xpath"
)

var exprCache sync.Map

func compile(expr string) (*xpath.Expr, error) {
	if cached, ok := exprCache.Load(expr); ok {
		return cached.(*xpath.Expr), nil
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	exprCache.Store(expr, compiled)
	return compiled, nil
}

// evaluate returns the scalar result of expr, or nil when the result is a node-set.
func evaluate(expr *xpath.Expr, nav xpath.NodeNavigator) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xpath %q: %v", expr.String(), r)
		}
	}()

	switch v := expr.Evaluate(nav).(type) {
	case *xpath.NodeIterator:
		return nil, nil
	default:
		return v, nil
	}
}

// ValidateXPath reports whether expr compiles.
func ValidateXPath(expr string) error {
	_, err := compile(expr)
	return err
}
