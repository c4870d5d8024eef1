package sql

import (
	"strconv"

	"github.com/flint-db/flintdb/internal/dberr"
)

// Parser consumes tokens from a lexer and produces one Statement per
// call to Parse. It keeps a single token of lookahead.
type parser struct {
	lx  *lexer
	cur token
}

// Parse parses a single SQL statement from src. Trailing whitespace and
// a single optional terminating ';' are tolerated; anything else left
// over after the statement is a parse error.
func Parse(src string) (Statement, error) {
	p := &parser{lx: newLexer(src)}
	p.advance()

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	if p.cur.typ == tSymbol && p.cur.val == ";" {
		p.advance()
	}
	if p.cur.typ != tEOF {
		return nil, dberr.ParseError(p.cur.pos, "unexpected trailing input: "+p.cur.val)
	}
	return stmt, nil
}

func (p *parser) advance() { p.cur = p.lx.next() }

func (p *parser) errf(msg string) error {
	return dberr.ParseError(p.cur.pos, msg)
}

func (p *parser) expectKeyword(kw string) error {
	if p.cur.typ != tKeyword || p.cur.val != kw {
		return p.errf("expected " + kw)
	}
	p.advance()
	return nil
}

func (p *parser) atKeyword(kw string) bool {
	return p.cur.typ == tKeyword && p.cur.val == kw
}

func (p *parser) expectSymbol(sym string) error {
	if p.cur.typ != tSymbol || p.cur.val != sym {
		return p.errf("expected '" + sym + "'")
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	if p.cur.typ != tIdent {
		return "", p.errf("expected identifier")
	}
	v := p.cur.val
	p.advance()
	return v, nil
}

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.atKeyword("CREATE"):
		return p.parseCreateTable()
	case p.atKeyword("DROP"):
		return p.parseDropTable()
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("SELECT"):
		return p.parseSelect()
	case p.atKeyword("UPDATE"):
		return p.parseUpdate()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	default:
		return nil, p.errf("expected a statement keyword")
	}
}

func (p *parser) parseCreateTable() (Statement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	var cols []ColumnDef
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typ, err := p.parseColumnType()
		if err != nil {
			return nil, err
		}
		col := ColumnDef{Name: colName, Type: typ}
		if p.atKeyword("PRIMARY") {
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			col.Primary = true
		}
		cols = append(cols, col)

		if p.cur.typ == tSymbol && p.cur.val == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return CreateTable{Table: name, Columns: cols}, nil
}

func (p *parser) parseColumnType() (string, error) {
	switch {
	case p.atKeyword("INTEGER"):
		p.advance()
		return "INTEGER", nil
	case p.atKeyword("TEXT"):
		p.advance()
		return "TEXT", nil
	case p.atKeyword("BLOB"):
		p.advance()
		return "BLOB", nil
	default:
		return "", p.errf("expected a column type")
	}
}

func (p *parser) parseDropTable() (Statement, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return DropTable{Table: name}, nil
}

func (p *parser) parseInsert() (Statement, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var vals []Literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		vals = append(vals, lit)
		if p.cur.typ == tSymbol && p.cur.val == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return Insert{Table: name, Values: vals}, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	switch {
	case p.atKeyword("NULL"):
		p.advance()
		return Literal{Kind: LitNull}, nil
	case p.cur.typ == tString:
		v := p.cur.val
		p.advance()
		return Literal{Kind: LitString, Str: v}, nil
	case p.cur.typ == tNumber:
		v := p.cur.val
		p.advance()
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Literal{}, p.errf("integer literal out of range: " + v)
		}
		return Literal{Kind: LitInt, Int: int32(n)}, nil
	case p.cur.typ == tSymbol && p.cur.val == "-":
		p.advance()
		if p.cur.typ != tNumber {
			return Literal{}, p.errf("expected a number after '-'")
		}
		v := p.cur.val
		p.advance()
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Literal{}, p.errf("integer literal out of range: -" + v)
		}
		return Literal{Kind: LitInt, Int: int32(-n)}, nil
	default:
		return Literal{}, p.errf("expected a literal value")
	}
}

func (p *parser) parseSelect() (Statement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := Select{}
	switch {
	case p.cur.typ == tSymbol && p.cur.val == "*":
		p.advance()
		sel.Agg = AggNone
	case p.atKeyword("COUNT"):
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		if p.cur.typ == tSymbol && p.cur.val == "*" {
			p.advance()
			sel.Agg = AggCount
		} else {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			sel.Agg = AggCountCol
			sel.AggCol = col
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	case p.atKeyword("SUM") || p.atKeyword("AVG") || p.atKeyword("MIN") || p.atKeyword("MAX"):
		kw := p.cur.val
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		sel.AggCol = col
		switch kw {
		case "SUM":
			sel.Agg = AggSum
		case "AVG":
			sel.Agg = AggAvg
		case "MIN":
			sel.Agg = AggMin
		case "MAX":
			sel.Agg = AggMax
		}
	default:
		return nil, p.errf("expected '*' or an aggregate function")
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sel.Table = name

	if p.atKeyword("WHERE") {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ob := &OrderBy{Column: col}
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			ob.Desc = true
		}
		sel.OrderBy = ob
	}
	if p.atKeyword("LIMIT") {
		p.advance()
		if p.cur.typ != tNumber {
			return nil, p.errf("expected a number after LIMIT")
		}
		n, err := strconv.Atoi(p.cur.val)
		if err != nil {
			return nil, p.errf("invalid LIMIT value: " + p.cur.val)
		}
		p.advance()
		sel.Limit = &n
	}
	return sel, nil
}

func (p *parser) parseWhere() (*Where, error) {
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	col, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Where{Column: col, Op: op, Value: lit}, nil
}

func (p *parser) parseOp() (Op, error) {
	if p.cur.typ != tSymbol {
		return 0, p.errf("expected a comparison operator")
	}
	op := p.cur.val
	p.advance()
	switch op {
	case "=":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	default:
		return 0, dberr.ParseError(p.cur.pos, "unknown comparison operator: "+op)
	}
}

func (p *parser) parseUpdate() (Statement, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	col, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("="); err != nil {
		return nil, err
	}
	val, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	upd := Update{Table: name, Column: col, Value: val}
	if p.atKeyword("WHERE") {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		upd.Where = w
	}
	return upd, nil
}

func (p *parser) parseDelete() (Statement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	del := Delete{Table: name}
	if p.atKeyword("WHERE") {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		del.Where = w
	}
	return del, nil
}
