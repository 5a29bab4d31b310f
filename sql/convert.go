package sql

import (
	"github.com/maxBogovick/memodb/core"
)

// Converter rewrites a parsed function call into its internal expression
// form. The most recently registered converter runs first, ahead of the
// built-ins; the first whose CanHandle
// accepts the uppercased name wins. Child expressions have already been
// converted when Convert runs.
type Converter interface {
	CanHandle(name string) bool
	Convert(call FuncCall) (Expr, error)
}

var converters []Converter

// RegisterConverter installs a converter ahead of the built-ins. Safe for
// concurrent use only before any queries run.
func RegisterConverter(c Converter) {
	converters = append([]Converter{c}, converters...)
}

func convertFuncCall(call FuncCall) (Expr, error) {
	for _, c := range converters {
		if c.CanHandle(call.Name) {
			return c.Convert(call)
		}
	}
	return nil, core.Errorf(core.KindUnsupported, "unknown function %s", call.Name)
}

// builtinConverter accepts the core scalar functions and aggregates.
type builtinConverter struct{}

var builtinFuncs = map[string]struct{ minArgs, maxArgs int }{
	"UPPER":    {1, 1},
	"LOWER":    {1, 1},
	"LENGTH":   {1, 1},
	"COALESCE": {1, -1},
	"NOW":      {0, 0},
	"ABS":      {1, 1},
	"ROUND":    {1, 2},
}

func (builtinConverter) CanHandle(name string) bool {
	if AggregateFuncs[name] {
		return true
	}
	_, ok := builtinFuncs[name]
	return ok
}

func (builtinConverter) Convert(call FuncCall) (Expr, error) {
	if AggregateFuncs[call.Name] {
		if call.Star && call.Name != "COUNT" {
			return nil, core.Errorf(core.KindParse, "%s(*) is not valid", call.Name)
		}
		if !call.Star && len(call.Args) != 1 {
			return nil, core.Errorf(core.KindParse, "%s takes exactly one argument", call.Name)
		}
		return call, nil
	}
	spec := builtinFuncs[call.Name]
	if call.Star || call.Distinct {
		return nil, core.Errorf(core.KindParse, "%s does not accept * or DISTINCT", call.Name)
	}
	if len(call.Args) < spec.minArgs || (spec.maxArgs >= 0 && len(call.Args) > spec.maxArgs) {
		return nil, core.Errorf(core.KindParse, "wrong argument count for %s", call.Name)
	}
	return call, nil
}

func init() {
	converters = append(converters, builtinConverter{})
}
