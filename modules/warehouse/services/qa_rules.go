package services

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
)

// QAWarningRules evaluates the per-organization CEL rule that decides whether
// a split/merge source deserves a QA warning. The rule sees `lp`, a
// map[string]string of the plate's status fields.
type QAWarningRules struct {
	env      *cel.Env
	programs sync.Map
}

func NewQAWarningRules() (*QAWarningRules, error) {
	env, err := cel.NewEnv(cel.Variable("lp", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return nil, err
	}
	return &QAWarningRules{env: env}, nil
}

// MustNewQAWarningRules panics if the CEL environment cannot be built; the
// environment has no user input so this only fails on a broken build.
func MustNewQAWarningRules() *QAWarningRules {
	r, err := NewQAWarningRules()
	if err != nil {
		panic(err)
	}
	return r
}

func (r *QAWarningRules) Compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("qa warning rule: expression required")
	}
	if cached, ok := r.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("qa warning rule: expression must evaluate to bool")
	}
	program, err := r.env.Program(ast)
	if err != nil {
		return nil, err
	}
	r.programs.Store(expr, program)
	return program, nil
}

func (r *QAWarningRules) Warn(expr string, lp types.LicensePlate) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		expr = types.DefaultQAWarningRule
	}
	program, err := r.Compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"lp": lpRuleInput(lp)})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("qa warning rule: non-bool result")
	}
	return v, nil
}

func lpRuleInput(lp types.LicensePlate) map[string]string {
	return map[string]string{
		"lp_number":    lp.LPNumber,
		"qa_status":    string(lp.QAStatus),
		"status":       string(lp.Status),
		"batch_number": lp.BatchNumber,
		"expiry_date":  lp.ExpiryDate,
		"uom":          lp.UoM,
		"product_id":   lp.ProductID,
		"warehouse_id": lp.WarehouseID,
		"source":       string(lp.Source),
	}
}
