package sql

import (
	"strings"

	"github.com/maxBogovick/memodb/core"
)

// Parser turns a SQL string into statements.
type Parser struct {
	input  string
	tokens []Token
	pos    int
}

// NewParser prepares a parser over the input string.
func NewParser(input string) *Parser {
	return &Parser{input: input}
}

// Parse returns the first statement of the input.
func (p *Parser) Parse() (Statement, error) {
	stmts, err := p.ParseAll()
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, core.Errorf(core.KindParse, "empty statement")
	}
	return stmts[0], nil
}

// ParseAll returns every semicolon-separated statement of the input.
func (p *Parser) ParseAll() ([]Statement, error) {
	tokens, err := Lex(p.input)
	if err != nil {
		return nil, err
	}
	p.tokens = tokens
	p.pos = 0

	var stmts []Statement
	for {
		for p.matchSymbol(";") {
		}
		if p.cur().Type == TokenEOF {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.matchSymbol(";") && p.cur().Type != TokenEOF {
			return nil, core.Errorf(core.KindParse, "unexpected %q after statement", p.cur().Text)
		}
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.peekKeyword("SELECT"), p.peekKeyword("WITH"):
		return p.parseSelect()
	case p.peekKeyword("INSERT"):
		return p.parseInsert()
	case p.peekKeyword("UPDATE"):
		return p.parseUpdate()
	case p.peekKeyword("DELETE"):
		return p.parseDelete()
	case p.peekKeyword("CREATE"):
		return p.parseCreate()
	case p.peekKeyword("DROP"):
		return p.parseDrop()
	case p.peekKeyword("ALTER"):
		return p.parseAlter()
	case p.peekKeyword("RENAME"):
		return p.parseRenameTable()
	case p.peekKeyword("EXPLAIN"):
		p.advance()
		target, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return ExplainStatement{Target: target}, nil
	case p.peekKeyword("BEGIN"):
		p.advance()
		p.matchKeyword("TRANSACTION")
		return BeginStatement{}, nil
	case p.peekKeyword("COMMIT"):
		p.advance()
		return CommitStatement{}, nil
	case p.peekKeyword("ROLLBACK"):
		p.advance()
		return RollbackStatement{}, nil
	case p.peekKeyword("DESCRIBE"):
		p.advance()
		name, err := p.parseIdent("table name")
		if err != nil {
			return nil, err
		}
		return DescribeStatement{Table: name}, nil
	case p.peekKeyword("SHOW"):
		return p.parseShow()
	default:
		return nil, core.Errorf(core.KindParse, "unexpected %q at start of statement", p.cur().Text)
	}
}

func (p *Parser) parseShow() (Statement, error) {
	p.advance() // SHOW
	switch {
	case p.matchKeyword("TABLES"):
		return ShowTablesStatement{}, nil
	case p.matchKeyword("INDEXES"):
		if !p.matchKeyword("FROM") && !p.matchKeyword("ON") {
			return nil, core.Errorf(core.KindParse, "expected FROM after SHOW INDEXES")
		}
		name, err := p.parseIdent("table name")
		if err != nil {
			return nil, err
		}
		return ShowIndexesStatement{Table: name}, nil
	default:
		return nil, core.Errorf(core.KindParse, "unsupported SHOW %q", p.cur().Text)
	}
}

func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE
	unique := p.matchKeyword("UNIQUE")
	switch {
	case p.matchKeyword("TABLE"):
		if unique {
			return nil, core.Errorf(core.KindParse, "unexpected UNIQUE before TABLE")
		}
		return p.parseCreateTable()
	case p.matchKeyword("INDEX"):
		return p.parseCreateIndex(unique)
	case p.matchKeyword("VIEW"):
		if unique {
			return nil, core.Errorf(core.KindParse, "unexpected UNIQUE before VIEW")
		}
		return p.parseCreateView()
	default:
		return nil, core.Errorf(core.KindParse, "expected TABLE, INDEX or VIEW after CREATE")
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	stmt := CreateTableStatement{}
	if p.matchKeyword("IF") {
		if !p.matchKeyword("NOT") || !p.matchKeyword("EXISTS") {
			return nil, core.Errorf(core.KindParse, "expected IF NOT EXISTS")
		}
		stmt.IfNotExists = true
	}
	name, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt.Name = name

	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.matchSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	var def ColumnDef
	name, err := p.parseIdent("column name")
	if err != nil {
		return def, err
	}
	def.Name = name

	dt, err := p.parseDataType()
	if err != nil {
		return def, err
	}
	def.Type = dt

	for {
		switch {
		case p.matchKeyword("PRIMARY"):
			if !p.matchKeyword("KEY") {
				return def, core.Errorf(core.KindParse, "expected KEY after PRIMARY")
			}
			def.PrimaryKey = true
		case p.matchKeyword("UNIQUE"):
			def.Unique = true
		case p.matchKeyword("NOT"):
			if !p.matchKeyword("NULL") {
				return def, core.Errorf(core.KindParse, "expected NULL after NOT")
			}
			def.NotNull = true
		case p.matchKeyword("NULL"):
			def.NotNull = false
		case p.matchKeyword("DEFAULT"):
			expr, err := p.parseExpr()
			if err != nil {
				return def, err
			}
			def.Default = expr
		case p.matchKeyword("REFERENCES"):
			ref, err := p.parseIdent("referenced table")
			if err != nil {
				return def, err
			}
			if p.matchSymbol("(") {
				if _, err := p.parseIdent("referenced column"); err != nil {
					return def, err
				}
				if err := p.expectSymbol(")"); err != nil {
					return def, err
				}
			}
			def.References = ref
		default:
			return def, nil
		}
	}
}

func (p *Parser) parseDataType() (core.DataType, error) {
	tok := p.cur()
	if tok.Type != TokenKeyword && tok.Type != TokenIdent {
		return 0, core.Errorf(core.KindParse, "expected data type, got %q", tok.Text)
	}
	p.advance()
	switch strings.ToUpper(tok.Text) {
	case "INT", "INTEGER", "BIGINT":
		return core.IntegerType, nil
	case "FLOAT", "REAL":
		return core.FloatType, nil
	case "DOUBLE":
		p.matchKeyword("PRECISION")
		return core.FloatType, nil
	case "TEXT", "STRING":
		return core.TextType, nil
	case "VARCHAR":
		if p.matchSymbol("(") {
			if p.cur().Type != TokenInt {
				return 0, core.Errorf(core.KindParse, "expected length after VARCHAR(")
			}
			p.advance()
			if err := p.expectSymbol(")"); err != nil {
				return 0, err
			}
		}
		return core.TextType, nil
	case "BOOLEAN", "BOOL":
		return core.BooleanType, nil
	default:
		return 0, core.Errorf(core.KindParse, "unknown data type %q", tok.Text)
	}
}

func (p *Parser) parseCreateIndex(unique bool) (Statement, error) {
	stmt := CreateIndexStatement{Unique: unique}
	name, err := p.parseIdent("index name")
	if err != nil {
		return nil, err
	}
	stmt.Name = name
	if !p.matchKeyword("ON") {
		return nil, core.Errorf(core.KindParse, "expected ON in CREATE INDEX")
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt.Table = table
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseIdent("column name")
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.matchSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseCreateView() (Statement, error) {
	name, err := p.parseIdent("view name")
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("AS") {
		return nil, core.Errorf(core.KindParse, "expected AS in CREATE VIEW")
	}
	startRune := p.cur().Pos
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string([]rune(p.input)[startRune:p.cur().Pos]))
	return CreateViewStatement{Name: name, Query: sel, QueryText: text}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance() // DROP
	switch {
	case p.matchKeyword("TABLE"):
		stmt := DropTableStatement{}
		if p.matchKeyword("IF") {
			if !p.matchKeyword("EXISTS") {
				return nil, core.Errorf(core.KindParse, "expected EXISTS after IF")
			}
			stmt.IfExists = true
		}
		name, err := p.parseIdent("table name")
		if err != nil {
			return nil, err
		}
		stmt.Name = name
		return stmt, nil
	case p.matchKeyword("INDEX"):
		name, err := p.parseIdent("index name")
		if err != nil {
			return nil, err
		}
		stmt := DropIndexStatement{Name: name}
		if p.matchKeyword("ON") {
			table, err := p.parseIdent("table name")
			if err != nil {
				return nil, err
			}
			stmt.Table = table
		}
		return stmt, nil
	case p.matchKeyword("VIEW"):
		name, err := p.parseIdent("view name")
		if err != nil {
			return nil, err
		}
		return DropViewStatement{Name: name}, nil
	default:
		return nil, core.Errorf(core.KindParse, "expected TABLE, INDEX or VIEW after DROP")
	}
}

func (p *Parser) parseAlter() (Statement, error) {
	p.advance() // ALTER
	if !p.matchKeyword("TABLE") {
		return nil, core.Errorf(core.KindParse, "expected TABLE after ALTER")
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt := AlterTableStatement{Table: table}

	switch {
	case p.matchKeyword("ADD"):
		p.matchKeyword("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Action = AlterAddColumn
		stmt.Column = col
	case p.matchKeyword("DROP"):
		p.matchKeyword("COLUMN")
		name, err := p.parseIdent("column name")
		if err != nil {
			return nil, err
		}
		stmt.Action = AlterDropColumn
		stmt.Name = name
	case p.matchKeyword("RENAME"):
		if p.matchKeyword("COLUMN") {
			oldName, err := p.parseIdent("column name")
			if err != nil {
				return nil, err
			}
			if !p.matchKeyword("TO") {
				return nil, core.Errorf(core.KindParse, "expected TO in RENAME COLUMN")
			}
			newName, err := p.parseIdent("new column name")
			if err != nil {
				return nil, err
			}
			stmt.Action = AlterRenameColumn
			stmt.Name = oldName
			stmt.NewName = newName
		} else {
			if !p.matchKeyword("TO") {
				return nil, core.Errorf(core.KindParse, "expected TO in RENAME")
			}
			newName, err := p.parseIdent("new table name")
			if err != nil {
				return nil, err
			}
			stmt.Action = AlterRenameTable
			stmt.NewName = newName
		}
	default:
		return nil, core.Errorf(core.KindParse, "expected ADD, DROP or RENAME in ALTER TABLE")
	}
	return stmt, nil
}

// parseRenameTable handles the standalone RENAME TABLE old TO new form.
func (p *Parser) parseRenameTable() (Statement, error) {
	p.advance() // RENAME
	if !p.matchKeyword("TABLE") {
		return nil, core.Errorf(core.KindParse, "expected TABLE after RENAME")
	}
	oldName, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("TO") {
		return nil, core.Errorf(core.KindParse, "expected TO in RENAME TABLE")
	}
	newName, err := p.parseIdent("new table name")
	if err != nil {
		return nil, err
	}
	return AlterTableStatement{Table: oldName, Action: AlterRenameTable, NewName: newName}, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if !p.matchKeyword("INTO") {
		return nil, core.Errorf(core.KindParse, "expected INTO after INSERT")
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt := InsertStatement{Table: table}

	if p.matchSymbol("(") {
		for {
			col, err := p.parseIdent("column name")
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if !p.matchSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	if !p.matchKeyword("VALUES") {
		return nil, core.Errorf(core.KindParse, "expected VALUES in INSERT")
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, expr)
			if !p.matchSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.matchSymbol(",") {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("SET") {
		return nil, core.Errorf(core.KindParse, "expected SET in UPDATE")
	}
	stmt := UpdateStatement{Table: table}
	for {
		col, err := p.parseIdent("column name")
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, SetClause{Column: col, Value: expr})
		if !p.matchSymbol(",") {
			break
		}
	}
	if p.matchKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	if !p.matchKeyword("FROM") {
		return nil, core.Errorf(core.KindParse, "expected FROM after DELETE")
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt := DeleteStatement{Table: table}
	if p.matchKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// Token helpers.

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() Token {
	tok := p.cur()
	p.pos++
	return tok
}

func (p *Parser) peekKeyword(kw string) bool {
	tok := p.cur()
	return tok.Type == TokenKeyword && tok.Text == kw
}

func (p *Parser) matchKeyword(kw string) bool {
	if p.peekKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) peekSymbol(sym string) bool {
	tok := p.cur()
	return tok.Type == TokenSymbol && tok.Text == sym
}

func (p *Parser) matchSymbol(sym string) bool {
	if p.peekSymbol(sym) {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expectSymbol(sym string) error {
	if !p.matchSymbol(sym) {
		return core.Errorf(core.KindParse, "expected %q, got %q", sym, p.cur().Text)
	}
	return nil
}

func (p *Parser) parseIdent(what string) (string, error) {
	tok := p.cur()
	if tok.Type != TokenIdent {
		return "", core.Errorf(core.KindParse, "expected %s, got %q", what, tok.Text)
	}
	p.advance()
	return tok.Text, nil
}
