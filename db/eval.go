package db

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
	"github.com/maxBogovick/memodb/sql"
)

// colInfo names one column of an intermediate row set, with the table
// alias it came from (empty for derived columns).
type colInfo struct {
	Table string
	Name  string
}

// EvalContext carries everything an expression needs: the current row and
// its column scope, the engine and transaction for subqueries, and the
// precomputed aggregate and window values keyed by rendered expression.
type EvalContext struct {
	Cols   []colInfo
	Row    []core.Value
	Engine *Engine
	Txn    *mvcc.Txn

	Aggs    map[string]core.Value
	WinVals map[string]core.Value

	// Ctes is the CTE scope of the enclosing query, visible to IN and
	// EXISTS subqueries.
	Ctes map[string]*rowSet

	subRows   map[*sql.SelectStatement][]core.Value
	subExists map[*sql.SelectStatement]bool
}

// Evaluator is one plugin of the expression evaluation registry. The
// first evaluator whose CanEvaluate accepts the node evaluates it.
type Evaluator interface {
	CanEvaluate(expr sql.Expr) bool
	Evaluate(ctx *EvalContext, expr sql.Expr) (core.Value, error)
}

var evaluators []Evaluator

// RegisterEvaluator installs an evaluator ahead of the built-ins. Safe
// only before queries run.
func RegisterEvaluator(ev Evaluator) {
	evaluators = append([]Evaluator{ev}, evaluators...)
}

// Eval dispatches an expression through the registry.
func Eval(ctx *EvalContext, expr sql.Expr) (core.Value, error) {
	for _, ev := range evaluators {
		if ev.CanEvaluate(expr) {
			return ev.Evaluate(ctx, expr)
		}
	}
	return core.Value{}, core.Errorf(core.KindUnsupported, "no evaluator for %T", expr)
}

// evalBool collapses the three-valued result of a predicate: NULL is
// false, as WHERE and ON require.
func evalBool(ctx *EvalContext, expr sql.Expr) (bool, error) {
	v, err := Eval(ctx, expr)
	if err != nil {
		return false, err
	}
	return v.AsBool(), nil
}

func init() {
	evaluators = []Evaluator{
		literalEvaluator{},
		columnEvaluator{},
		windowRefEvaluator{},
		aggregateRefEvaluator{},
		binaryEvaluator{},
		unaryEvaluator{},
		likeEvaluator{},
		betweenEvaluator{},
		isNullEvaluator{},
		inEvaluator{},
		existsEvaluator{},
		jsonEvaluator{},
		scalarFuncEvaluator{},
	}
}

type literalEvaluator struct{}

func (literalEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.Literal); return ok }
func (literalEvaluator) Evaluate(_ *EvalContext, e sql.Expr) (core.Value, error) {
	return e.(sql.Literal).Value, nil
}

type columnEvaluator struct{}

func (columnEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.ColumnRef); return ok }
func (columnEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	ref := e.(sql.ColumnRef)
	found := -1
	for i, col := range ctx.Cols {
		if col.Name != ref.Name {
			continue
		}
		if ref.Table != "" && !strings.EqualFold(col.Table, ref.Table) {
			continue
		}
		if found >= 0 {
			return core.Value{}, core.Errorf(core.KindExecution, "column %q is ambiguous", ref.Name)
		}
		found = i
	}
	if found < 0 {
		return core.Value{}, core.Errorf(core.KindColumnNotFound, "column %q does not exist", sql.ExprString(ref))
	}
	return ctx.Row[found], nil
}

// aggregateRefEvaluator resolves aggregate calls against the values the
// aggregation operator computed for the current group.
type aggregateRefEvaluator struct{}

func (aggregateRefEvaluator) CanEvaluate(e sql.Expr) bool {
	fc, ok := e.(sql.FuncCall)
	return ok && sql.AggregateFuncs[fc.Name]
}
func (aggregateRefEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	key := sql.ExprString(e)
	if ctx.Aggs != nil {
		if v, ok := ctx.Aggs[key]; ok {
			return v, nil
		}
	}
	return core.Value{}, core.Errorf(core.KindExecution, "aggregate %s outside aggregation", key)
}

type windowRefEvaluator struct{}

func (windowRefEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.WindowExpr); return ok }
func (windowRefEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	key := sql.ExprString(e)
	if ctx.WinVals != nil {
		if v, ok := ctx.WinVals[key]; ok {
			return v, nil
		}
	}
	return core.Value{}, core.Errorf(core.KindExecution, "window function %s outside windowing", key)
}

type binaryEvaluator struct{}

func (binaryEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.BinaryExpr); return ok }
func (binaryEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	bin := e.(sql.BinaryExpr)

	switch bin.Op {
	case "AND", "OR":
		left, err := Eval(ctx, bin.Left)
		if err != nil {
			return core.Value{}, err
		}
		right, err := Eval(ctx, bin.Right)
		if err != nil {
			return core.Value{}, err
		}
		return kleene(bin.Op, left, right), nil
	}

	left, err := Eval(ctx, bin.Left)
	if err != nil {
		return core.Value{}, err
	}
	right, err := Eval(ctx, bin.Right)
	if err != nil {
		return core.Value{}, err
	}

	switch bin.Op {
	case "+", "-", "*", "/", "%":
		return core.Arith(arithOp(bin.Op), left, right)
	case "||":
		if left.IsNull() || right.IsNull() {
			return core.Null(), nil
		}
		return core.NewText(left.Display() + right.Display()), nil
	case "=", "!=":
		eq, known, err := core.Equal(left, right)
		if err != nil {
			return core.Value{}, err
		}
		if !known {
			return core.Null(), nil
		}
		if bin.Op == "!=" {
			eq = !eq
		}
		return core.NewBoolean(eq), nil
	case "<", "<=", ">", ">=":
		if left.IsNull() || right.IsNull() {
			return core.Null(), nil
		}
		c, err := core.Compare(left, right)
		if err != nil {
			return core.Value{}, err
		}
		var b bool
		switch bin.Op {
		case "<":
			b = c < 0
		case "<=":
			b = c <= 0
		case ">":
			b = c > 0
		case ">=":
			b = c >= 0
		}
		return core.NewBoolean(b), nil
	default:
		return core.Value{}, core.Errorf(core.KindUnsupported, "operator %s", bin.Op)
	}
}

func arithOp(op string) core.ArithOp {
	switch op {
	case "+":
		return core.OpAdd
	case "-":
		return core.OpSub
	case "*":
		return core.OpMul
	case "/":
		return core.OpDiv
	default:
		return core.OpMod
	}
}

// kleene applies three-valued AND/OR.
func kleene(op string, a, b core.Value) core.Value {
	an, bn := a.IsNull(), b.IsNull()
	at, bt := a.AsBool(), b.AsBool()
	if op == "AND" {
		if (!an && !at) || (!bn && !bt) {
			return core.NewBoolean(false)
		}
		if an || bn {
			return core.Null()
		}
		return core.NewBoolean(true)
	}
	if (!an && at) || (!bn && bt) {
		return core.NewBoolean(true)
	}
	if an || bn {
		return core.Null()
	}
	return core.NewBoolean(false)
}

type unaryEvaluator struct{}

func (unaryEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.UnaryExpr); return ok }
func (unaryEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	un := e.(sql.UnaryExpr)
	v, err := Eval(ctx, un.Operand)
	if err != nil {
		return core.Value{}, err
	}
	switch un.Op {
	case "NOT":
		if v.IsNull() {
			return core.Null(), nil
		}
		return core.NewBoolean(!v.AsBool()), nil
	case "-":
		switch v.Kind {
		case core.NullValue:
			return core.Null(), nil
		case core.IntegerValue:
			return core.NewInteger(-v.Int), nil
		case core.FloatValue:
			return core.NewFloat(-v.Float), nil
		default:
			return core.Value{}, core.Errorf(core.KindTypeMismatch, "cannot negate %s", v.Kind)
		}
	default:
		return core.Value{}, core.Errorf(core.KindUnsupported, "unary operator %s", un.Op)
	}
}

type likeEvaluator struct{}

func (likeEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.LikeExpr); return ok }
func (likeEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	like := e.(sql.LikeExpr)
	operand, err := Eval(ctx, like.Operand)
	if err != nil {
		return core.Value{}, err
	}
	pattern, err := Eval(ctx, like.Pattern)
	if err != nil {
		return core.Value{}, err
	}
	if operand.IsNull() || pattern.IsNull() {
		return core.Null(), nil
	}
	if operand.Kind != core.TextValue || pattern.Kind != core.TextValue {
		return core.Value{}, core.Errorf(core.KindTypeMismatch, "LIKE requires TEXT operands")
	}
	matched := matchLike(operand.Text, pattern.Text)
	if like.Not {
		matched = !matched
	}
	return core.NewBoolean(matched), nil
}

// matchLike is the case-sensitive LIKE matcher: % matches zero or more
// characters, _ exactly one, backslash escapes the next pattern character.
func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

func likeMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatch(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && likeMatch(s[1:], p[1:])
	case '\\':
		if len(p) > 1 {
			return len(s) > 0 && s[0] == p[1] && likeMatch(s[1:], p[2:])
		}
		return len(s) == 1 && s[0] == '\\'
	default:
		return len(s) > 0 && s[0] == p[0] && likeMatch(s[1:], p[1:])
	}
}

type betweenEvaluator struct{}

func (betweenEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.BetweenExpr); return ok }
func (betweenEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	bt := e.(sql.BetweenExpr)
	lower := sql.BinaryExpr{Op: ">=", Left: bt.Operand, Right: bt.Low}
	upper := sql.BinaryExpr{Op: "<=", Left: bt.Operand, Right: bt.High}
	v, err := Eval(ctx, sql.BinaryExpr{Op: "AND", Left: lower, Right: upper})
	if err != nil {
		return core.Value{}, err
	}
	if bt.Not && !v.IsNull() {
		return core.NewBoolean(!v.AsBool()), nil
	}
	return v, nil
}

type isNullEvaluator struct{}

func (isNullEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.IsNullExpr); return ok }
func (isNullEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	isn := e.(sql.IsNullExpr)
	v, err := Eval(ctx, isn.Operand)
	if err != nil {
		return core.Value{}, err
	}
	result := v.IsNull()
	if isn.Not {
		result = !result
	}
	return core.NewBoolean(result), nil
}

type inEvaluator struct{}

func (inEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.InExpr); return ok }
func (inEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	in := e.(sql.InExpr)
	operand, err := Eval(ctx, in.Operand)
	if err != nil {
		return core.Value{}, err
	}

	var candidates []core.Value
	if in.Subquery != nil {
		candidates, err = ctx.subqueryColumn(in.Subquery)
		if err != nil {
			return core.Value{}, err
		}
	} else {
		for _, item := range in.List {
			v, err := Eval(ctx, item)
			if err != nil {
				return core.Value{}, err
			}
			candidates = append(candidates, v)
		}
	}

	sawNull := operand.IsNull()
	matched := false
	for _, cand := range candidates {
		eq, known, err := core.Equal(operand, cand)
		if err != nil {
			return core.Value{}, err
		}
		if !known {
			sawNull = true
			continue
		}
		if eq {
			matched = true
			break
		}
	}

	var result core.Value
	switch {
	case matched:
		result = core.NewBoolean(true)
	case sawNull:
		result = core.Null()
	default:
		result = core.NewBoolean(false)
	}
	if in.Not && !result.IsNull() {
		return core.NewBoolean(!result.AsBool()), nil
	}
	return result, nil
}

type existsEvaluator struct{}

func (existsEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.ExistsExpr); return ok }
func (existsEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	ex := e.(sql.ExistsExpr)
	found, err := ctx.subqueryExists(ex.Subquery)
	if err != nil {
		return core.Value{}, err
	}
	return core.NewBoolean(found), nil
}

type jsonEvaluator struct{}

func (jsonEvaluator) CanEvaluate(e sql.Expr) bool { _, ok := e.(sql.JSONAccess); return ok }
func (jsonEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	ja := e.(sql.JSONAccess)
	operand, err := Eval(ctx, ja.Operand)
	if err != nil {
		return core.Value{}, err
	}
	field, err := Eval(ctx, ja.Field)
	if err != nil {
		return core.Value{}, err
	}
	if operand.IsNull() || field.IsNull() {
		return core.Null(), nil
	}
	if operand.Kind != core.TextValue {
		return core.Value{}, core.Errorf(core.KindTypeMismatch, "%s requires a JSON text operand", ja.Op)
	}

	var doc any
	if err := json.Unmarshal([]byte(operand.Text), &doc); err != nil {
		return core.Null(), nil
	}

	var picked any
	switch d := doc.(type) {
	case map[string]any:
		if field.Kind != core.TextValue {
			return core.Null(), nil
		}
		var ok bool
		picked, ok = d[field.Text]
		if !ok {
			return core.Null(), nil
		}
	case []any:
		if field.Kind != core.IntegerValue {
			return core.Null(), nil
		}
		idx := int(field.Int)
		if idx < 0 || idx >= len(d) {
			return core.Null(), nil
		}
		picked = d[idx]
	default:
		return core.Null(), nil
	}

	if ja.Op == "->" {
		raw, err := json.Marshal(picked)
		if err != nil {
			return core.Null(), nil
		}
		return core.NewText(string(raw)), nil
	}
	// ->> extracts as plain text.
	switch v := picked.(type) {
	case nil:
		return core.Null(), nil
	case string:
		return core.NewText(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return core.Null(), nil
		}
		return core.NewText(string(raw)), nil
	}
}

type scalarFuncEvaluator struct{}

func (scalarFuncEvaluator) CanEvaluate(e sql.Expr) bool {
	fc, ok := e.(sql.FuncCall)
	return ok && !sql.AggregateFuncs[fc.Name]
}

func (scalarFuncEvaluator) Evaluate(ctx *EvalContext, e sql.Expr) (core.Value, error) {
	fc := e.(sql.FuncCall)
	args := make([]core.Value, len(fc.Args))
	for i, arg := range fc.Args {
		v, err := Eval(ctx, arg)
		if err != nil {
			return core.Value{}, err
		}
		args[i] = v
	}

	switch fc.Name {
	case "UPPER", "LOWER":
		if args[0].IsNull() {
			return core.Null(), nil
		}
		if args[0].Kind != core.TextValue {
			return core.Value{}, core.Errorf(core.KindTypeMismatch, "%s requires TEXT", fc.Name)
		}
		if fc.Name == "UPPER" {
			return core.NewText(strings.ToUpper(args[0].Text)), nil
		}
		return core.NewText(strings.ToLower(args[0].Text)), nil

	case "LENGTH":
		if args[0].IsNull() {
			return core.Null(), nil
		}
		if args[0].Kind != core.TextValue {
			return core.Value{}, core.Errorf(core.KindTypeMismatch, "LENGTH requires TEXT")
		}
		return core.NewInteger(int64(len([]rune(args[0].Text)))), nil

	case "COALESCE":
		for _, v := range args {
			if !v.IsNull() {
				return v, nil
			}
		}
		return core.Null(), nil

	case "NOW":
		return core.NewText(time.Now().UTC().Format(time.RFC3339)), nil

	case "ABS":
		switch args[0].Kind {
		case core.NullValue:
			return core.Null(), nil
		case core.IntegerValue:
			if args[0].Int < 0 {
				return core.NewInteger(-args[0].Int), nil
			}
			return args[0], nil
		case core.FloatValue:
			return core.NewFloat(math.Abs(args[0].Float)), nil
		default:
			return core.Value{}, core.Errorf(core.KindTypeMismatch, "ABS requires a number")
		}

	case "ROUND":
		if args[0].IsNull() {
			return core.Null(), nil
		}
		f, err := args[0].AsFloat()
		if err != nil {
			return core.Value{}, err
		}
		digits := 0
		if len(args) == 2 {
			if args[1].Kind != core.IntegerValue {
				return core.Value{}, core.Errorf(core.KindTypeMismatch, "ROUND digits must be an integer")
			}
			digits = int(args[1].Int)
		}
		scale := math.Pow10(digits)
		return core.NewFloat(math.Round(f*scale) / scale), nil

	default:
		return core.Value{}, core.Errorf(core.KindUnsupported, "unknown function %s", fc.Name)
	}
}
