// Package core provides core types used throughout memodb.
//
// The package defines the tagged runtime Value, column and table schema
// descriptors, the closed error taxonomy, and the API version constants.
//
// # Values
//
// A Value is one of Null, Integer, Float, Text or Boolean. Comparison
// follows PostgreSQL-style three-valued logic: NULL is neither equal nor
// unequal to anything, and predicates that evaluate to NULL are treated as
// false by WHERE and ON. Numeric comparison promotes integers to floats;
// comparing TEXT against a numeric type is a type mismatch.
//
// # Table Definition
//
//	schema := core.TableSchema{
//	    Name: "users",
//	    Columns: []core.Column{
//	        {Name: "id", Type: core.IntegerType, PrimaryKey: true},
//	        {Name: "email", Type: core.TextType, Unique: true},
//	        {Name: "active", Type: core.BooleanType, Nullable: true},
//	    },
//	}
package core
