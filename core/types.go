package core

// DataType is the declared type of a column.
type DataType int

const (
	IntegerType DataType = iota
	FloatType
	TextType
	BooleanType
)

func (t DataType) String() string {
	switch t {
	case IntegerType:
		return "INTEGER"
	case FloatType:
		return "FLOAT"
	case TextType:
		return "TEXT"
	case BooleanType:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// IsCompatible reports whether a runtime value may be stored in a column of
// this type. NULL is compatible with every type; nullability is checked
// separately. Integers are accepted by FLOAT columns and widened on write.
func (t DataType) IsCompatible(v Value) bool {
	if v.IsNull() {
		return true
	}
	switch t {
	case IntegerType:
		return v.Kind == IntegerValue
	case FloatType:
		return v.Kind == FloatValue || v.Kind == IntegerValue
	case TextType:
		return v.Kind == TextValue
	case BooleanType:
		return v.Kind == BooleanValue
	default:
		return false
	}
}

// Column describes one column of a table.
type Column struct {
	Name       string   `json:"name"`
	Type       DataType `json:"type"`
	Nullable   bool     `json:"nullable"`
	Unique     bool     `json:"unique,omitempty"`
	PrimaryKey bool     `json:"primaryKey,omitempty"`
	References string   `json:"references,omitempty"`
}

// Row is an ordered sequence of values positionally matching a table's
// columns.
type Row []Value

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// TableSchema is the catalog descriptor of a table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnIndex returns the position of a named column, or -1.
func (s TableSchema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames lists the column names in declaration order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of the schema.
func (s TableSchema) Clone() TableSchema {
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	return TableSchema{Name: s.Name, Columns: cols}
}

// ViewDef is the catalog descriptor of a view: a name bound to the SQL text
// of its defining SELECT, expanded at planning time.
type ViewDef struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}
