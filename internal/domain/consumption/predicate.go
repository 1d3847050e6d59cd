package consumption

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"costengine/internal/core/entity"
)

// DefaultSalePredicate accepts completed sales only.
const DefaultSalePredicate = `status in ["COMPLETED", "PAID", "CLOSED"]`

// SalePredicate decides whether a sale line counts as a completed sale.
// The expression is CEL over: status (upper-cased), qty, item_id, order_id, options.
type SalePredicate struct {
	expr string
	prg  cel.Program
}

// NewSalePredicate compiles expr. An empty expr uses DefaultSalePredicate.
func NewSalePredicate(expr string) (*SalePredicate, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultSalePredicate
	}
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("qty", cel.DoubleType),
		cel.Variable("item_id", cel.StringType),
		cel.Variable("order_id", cel.StringType),
		cel.Variable("options", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile sale predicate %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("sale predicate %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build sale predicate: %w", err)
	}
	return &SalePredicate{expr: expr, prg: prg}, nil
}

// MustSalePredicate panics on an invalid expression. Use only for constants and tests.
func MustSalePredicate(expr string) *SalePredicate {
	p, err := NewSalePredicate(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *SalePredicate) String() string { return p.expr }

// Match evaluates the predicate for one sale line.
func (p *SalePredicate) Match(line *entity.SaleLine) (bool, error) {
	opts := make([]string, len(line.Options))
	for i, o := range line.Options {
		opts[i] = o.String()
	}
	out, _, err := p.prg.Eval(map[string]any{
		"status":   strings.ToUpper(strings.TrimSpace(line.Status)),
		"qty":      line.QtySold.Float64(),
		"item_id":  line.ItemID.String(),
		"order_id": line.OrderID.String(),
		"options":  opts,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate sale predicate: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("sale predicate returned %T", out.Value())
	}
	return ok, nil
}
