package sql

import (
	"strings"

	"github.com/maxBogovick/memodb/core"
)

// Expression grammar, lowest precedence first:
//
//	OR
//	AND
//	NOT
//	comparison, IS [NOT] NULL, [NOT] LIKE, [NOT] BETWEEN, [NOT] IN, EXISTS
//	additive (+ - ||)
//	multiplicative (* / %)
//	unary minus
//	JSON access (-> ->>)
//	primary

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.matchKeyword("NOT") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.peekSymbol("="), p.peekSymbol("!="), p.peekSymbol("<>"),
			p.peekSymbol("<"), p.peekSymbol("<="), p.peekSymbol(">"), p.peekSymbol(">="):
			op := p.advance().Text
			if op == "<>" {
				op = "!="
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = BinaryExpr{Op: op, Left: left, Right: right}

		case p.peekKeyword("IS"):
			p.advance()
			not := p.matchKeyword("NOT")
			if !p.matchKeyword("NULL") {
				return nil, core.Errorf(core.KindParse, "expected NULL after IS")
			}
			left = IsNullExpr{Not: not, Operand: left}

		case p.peekKeyword("LIKE"):
			p.advance()
			pattern, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = LikeExpr{Operand: left, Pattern: pattern}

		case p.peekKeyword("BETWEEN"):
			p.advance()
			low, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if !p.matchKeyword("AND") {
				return nil, core.Errorf(core.KindParse, "expected AND in BETWEEN")
			}
			high, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = BetweenExpr{Operand: left, Low: low, High: high}

		case p.peekKeyword("IN"):
			p.advance()
			in, err := p.parseInRHS(left, false)
			if err != nil {
				return nil, err
			}
			left = in

		case p.peekKeyword("NOT"):
			// NOT LIKE / NOT BETWEEN / NOT IN as infix forms.
			next := p.peekAt(1)
			if next.Type != TokenKeyword {
				return left, nil
			}
			switch next.Text {
			case "LIKE":
				p.advance()
				p.advance()
				pattern, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = LikeExpr{Not: true, Operand: left, Pattern: pattern}
			case "BETWEEN":
				p.advance()
				p.advance()
				low, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				if !p.matchKeyword("AND") {
					return nil, core.Errorf(core.KindParse, "expected AND in BETWEEN")
				}
				high, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = BetweenExpr{Not: true, Operand: left, Low: low, High: high}
			case "IN":
				p.advance()
				p.advance()
				in, err := p.parseInRHS(left, true)
				if err != nil {
					return nil, err
				}
				left = in
			default:
				return left, nil
			}

		default:
			return left, nil
		}
	}
}

func (p *Parser) parseInRHS(operand Expr, not bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.peekKeyword("SELECT") || p.peekKeyword("WITH") {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return InExpr{Not: not, Operand: operand, Subquery: sub}, nil
	}
	var list []Expr
	for {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		if !p.matchSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return InExpr{Not: not, Operand: operand, List: list}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.peekSymbol("+"):
			op = "+"
		case p.peekSymbol("-"):
			op = "-"
		case p.peekSymbol("||"):
			op = "||"
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.peekSymbol("*"):
			op = "*"
		case p.peekSymbol("/"):
			op = "/"
		case p.peekSymbol("%"):
			op = "%"
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.matchSymbol("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// Fold a negated literal immediately.
		if lit, ok := operand.(Literal); ok {
			switch lit.Value.Kind {
			case core.IntegerValue:
				return Literal{Value: core.NewInteger(-lit.Value.Int)}, nil
			case core.FloatValue:
				return Literal{Value: core.NewFloat(-lit.Value.Float)}, nil
			}
		}
		return UnaryExpr{Op: "-", Operand: operand}, nil
	}
	p.matchSymbol("+")
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peekSymbol("->"), p.peekSymbol("->>"):
			op := p.advance().Text
			field, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			left = JSONAccess{Op: op, Operand: left, Field: field}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()

	switch tok.Type {
	case TokenInt:
		p.advance()
		return Literal{Value: core.NewInteger(tok.Int)}, nil
	case TokenFloat:
		p.advance()
		return Literal{Value: core.NewFloat(tok.Float)}, nil
	case TokenString:
		p.advance()
		return Literal{Value: core.NewText(tok.Text)}, nil
	}

	switch {
	case p.matchKeyword("NULL"):
		return Literal{Value: core.Null()}, nil
	case p.matchKeyword("TRUE"):
		return Literal{Value: core.NewBoolean(true)}, nil
	case p.matchKeyword("FALSE"):
		return Literal{Value: core.NewBoolean(false)}, nil

	case p.peekKeyword("EXISTS"):
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return ExistsExpr{Subquery: sub}, nil

	case p.matchSymbol("("):
		if p.peekKeyword("SELECT") || p.peekKeyword("WITH") {
			return nil, core.Errorf(core.KindUnsupported, "scalar subqueries are not supported")
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	if tok.Type == TokenIdent {
		// Function call?
		if p.peekAt(1).Text == "(" && p.peekAt(1).Type == TokenSymbol {
			return p.parseFuncCall()
		}
		p.advance()
		ref := ColumnRef{Name: tok.Text}
		if p.matchSymbol(".") {
			col, err := p.parseIdent("column name")
			if err != nil {
				return nil, err
			}
			ref = ColumnRef{Table: tok.Text, Name: col}
		}
		return ref, nil
	}

	return nil, core.Errorf(core.KindParse, "unexpected %q in expression", tok.Text)
}

func (p *Parser) parseFuncCall() (Expr, error) {
	name := strings.ToUpper(p.advance().Text)
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	call := FuncCall{Name: name}
	if p.matchSymbol("*") {
		call.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	} else if p.matchSymbol(")") {
		// zero-arg call
	} else {
		call.Distinct = p.matchKeyword("DISTINCT")
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.matchSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	if p.peekKeyword("OVER") {
		return p.parseOverClause(name)
	}
	return convertFuncCall(call)
}

func (p *Parser) parseOverClause(name string) (Expr, error) {
	p.advance() // OVER
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	win := WindowExpr{Func: name}
	if p.matchKeyword("PARTITION") {
		if !p.matchKeyword("BY") {
			return nil, core.Errorf(core.KindParse, "expected BY after PARTITION")
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			win.PartitionBy = append(win.PartitionBy, expr)
			if !p.matchSymbol(",") {
				break
			}
		}
	}
	if p.matchKeyword("ORDER") {
		if !p.matchKeyword("BY") {
			return nil, core.Errorf(core.KindParse, "expected BY after ORDER")
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			key := OrderKey{Expr: expr}
			if p.matchKeyword("DESC") {
				key.Desc = true
			} else {
				p.matchKeyword("ASC")
			}
			win.OrderBy = append(win.OrderBy, key)
			if !p.matchSymbol(",") {
				break
			}
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if win.Func != "ROW_NUMBER" && win.Func != "RANK" {
		return nil, core.Errorf(core.KindUnsupported, "window function %s is not supported", win.Func)
	}
	return win, nil
}
