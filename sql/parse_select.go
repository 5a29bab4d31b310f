package sql

import (
	"github.com/maxBogovick/memodb/core"
)

func (p *Parser) parseSelect() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	if p.matchKeyword("WITH") {
		recursive := p.matchKeyword("RECURSIVE")
		for {
			name, err := p.parseIdent("CTE name")
			if err != nil {
				return nil, err
			}
			if !p.matchKeyword("AS") {
				return nil, core.Errorf(core.KindParse, "expected AS in WITH clause")
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			body, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			stmt.With = append(stmt.With, CTE{Name: name, Recursive: recursive, Select: body})
			if !p.matchSymbol(",") {
				break
			}
		}
	}

	if !p.matchKeyword("SELECT") {
		return nil, core.Errorf(core.KindParse, "expected SELECT, got %q", p.cur().Text)
	}
	stmt.Distinct = p.matchKeyword("DISTINCT")

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Projections = append(stmt.Projections, item)
		if !p.matchSymbol(",") {
			break
		}
	}

	if p.matchKeyword("FROM") {
		from, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		stmt.From = &from

		for {
			join, ok, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			stmt.Joins = append(stmt.Joins, join)
		}
	}

	if p.matchKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.matchKeyword("GROUP") {
		if !p.matchKeyword("BY") {
			return nil, core.Errorf(core.KindParse, "expected BY after GROUP")
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, expr)
			if !p.matchSymbol(",") {
				break
			}
		}
	}

	if p.matchKeyword("HAVING") {
		having, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	if p.matchKeyword("UNION") {
		stmt.UnionAll = p.matchKeyword("ALL")
		rest, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.Union = rest
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
			stmt.OrderBy = append(stmt.OrderBy, key)
			if !p.matchSymbol(",") {
				break
			}
		}
	}

	if p.matchKeyword("LIMIT") {
		n, err := p.parseNonNegativeInt("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.matchKeyword("OFFSET") {
		n, err := p.parseNonNegativeInt("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	return stmt, nil
}

func (p *Parser) parseNonNegativeInt(clause string) (int64, error) {
	tok := p.cur()
	if tok.Type != TokenInt || tok.Int < 0 {
		return 0, core.Errorf(core.KindParse, "%s expects a non-negative integer", clause)
	}
	p.advance()
	return tok.Int, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.matchSymbol("*") {
		return SelectItem{Star: true}, nil
	}
	// table.* projection
	if p.cur().Type == TokenIdent && p.peekAt(1).Text == "." && p.peekAt(2).Text == "*" {
		p.advance()
		p.advance()
		p.advance()
		return SelectItem{Star: true}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.matchKeyword("AS") {
		alias, err := p.parseIdent("alias")
		if err != nil {
			return SelectItem{}, err
		}
		item.Alias = alias
	} else if p.cur().Type == TokenIdent {
		item.Alias = p.advance().Text
	}
	return item, nil
}

func (p *Parser) parseFromClause() (FromClause, error) {
	if p.matchSymbol("(") {
		sub, err := p.parseSelect()
		if err != nil {
			return FromClause{}, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return FromClause{}, err
		}
		from := FromClause{Subquery: sub}
		if p.matchKeyword("AS") {
			alias, err := p.parseIdent("subquery alias")
			if err != nil {
				return FromClause{}, err
			}
			from.Alias = alias
		} else if p.cur().Type == TokenIdent {
			from.Alias = p.advance().Text
		}
		return from, nil
	}

	name, err := p.parseIdent("table name")
	if err != nil {
		return FromClause{}, err
	}
	from := FromClause{Table: name}
	if p.matchKeyword("AS") {
		alias, err := p.parseIdent("table alias")
		if err != nil {
			return FromClause{}, err
		}
		from.Alias = alias
	} else if p.cur().Type == TokenIdent {
		from.Alias = p.advance().Text
	}
	return from, nil
}

func (p *Parser) parseJoin() (JoinClause, bool, error) {
	kind := ""
	switch {
	case p.peekKeyword("JOIN"):
		kind = "INNER"
		p.advance()
	case p.peekKeyword("INNER"):
		p.advance()
		if !p.matchKeyword("JOIN") {
			return JoinClause{}, false, core.Errorf(core.KindParse, "expected JOIN after INNER")
		}
		kind = "INNER"
	case p.peekKeyword("LEFT"):
		p.advance()
		p.matchKeyword("OUTER")
		if !p.matchKeyword("JOIN") {
			return JoinClause{}, false, core.Errorf(core.KindParse, "expected JOIN after LEFT")
		}
		kind = "LEFT"
	case p.peekKeyword("RIGHT"):
		p.advance()
		p.matchKeyword("OUTER")
		if !p.matchKeyword("JOIN") {
			return JoinClause{}, false, core.Errorf(core.KindParse, "expected JOIN after RIGHT")
		}
		kind = "RIGHT"
	default:
		return JoinClause{}, false, nil
	}

	from, err := p.parseFromClause()
	if err != nil {
		return JoinClause{}, false, err
	}
	if !p.matchKeyword("ON") {
		return JoinClause{}, false, core.Errorf(core.KindParse, "expected ON in JOIN")
	}
	on, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, false, err
	}
	return JoinClause{Kind: kind, From: from, On: on}, true, nil
}
