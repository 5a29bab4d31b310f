//go:build comparative

package tests

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/maxBogovick/memodb"
	"github.com/maxBogovick/memodb/db"

	_ "github.com/duckdb/duckdb-go/v2"
)

// ============================================================================
// SETUP FUNCTIONS
// ============================================================================

// setupMemodb creates a memodb engine with test data.
func setupMemodb(b *testing.B) *db.Engine {
	engine := memodb.Open()
	ctx := context.Background()

	engine.Execute(ctx, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT, city TEXT)")
	for i := 1; i <= 1000; i++ {
		engine.Execute(ctx, "INSERT INTO users (id, name, age, city) VALUES ("+
			strconv.Itoa(i)+", 'User"+strconv.Itoa(i)+"', "+strconv.Itoa(20+i%50)+", 'City"+strconv.Itoa(i%10)+"')")
	}
	return engine
}

// setupDuckDB creates a DuckDB instance with identical test data.
func setupDuckDB(b *testing.B) *sql.DB {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		b.Fatalf("Failed to open DuckDB: %v", err)
	}

	if _, err := conn.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR, age INTEGER, city VARCHAR)"); err != nil {
		b.Fatalf("Failed to create DuckDB table: %v", err)
	}
	for i := 1; i <= 1000; i++ {
		_, err := conn.Exec("INSERT INTO users VALUES (" +
			strconv.Itoa(i) + ", 'User" + strconv.Itoa(i) + "', " + strconv.Itoa(20+i%50) + ", 'City" + strconv.Itoa(i%10) + "')")
		if err != nil {
			b.Fatalf("Failed to insert into DuckDB: %v", err)
		}
	}
	return conn
}

// ============================================================================
// POINT LOOKUPS
// ============================================================================

func BenchmarkMemodbPointSelect(b *testing.B) {
	engine := setupMemodb(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := strconv.Itoa(1 + i%1000)
		if _, err := engine.Query(ctx, "SELECT * FROM users WHERE id = "+id); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkDuckDBPointSelect(b *testing.B) {
	conn := setupDuckDB(b)
	defer conn.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := 1 + i%1000
		rows, err := conn.Query("SELECT * FROM users WHERE id = ?", id)
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
		rows.Close()
	}
}

// ============================================================================
// RANGE SCANS
// ============================================================================

func BenchmarkMemodbRangeScan(b *testing.B) {
	engine := setupMemodb(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Query(ctx, "SELECT name FROM users WHERE age > 40"); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkDuckDBRangeScan(b *testing.B) {
	conn := setupDuckDB(b)
	defer conn.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rows, err := conn.Query("SELECT name FROM users WHERE age > 40")
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
		rows.Close()
	}
}

// ============================================================================
// AGGREGATION
// ============================================================================

func BenchmarkMemodbGroupBy(b *testing.B) {
	engine := setupMemodb(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Query(ctx, "SELECT city, COUNT(*), AVG(age) FROM users GROUP BY city"); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkDuckDBGroupBy(b *testing.B) {
	conn := setupDuckDB(b)
	defer conn.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rows, err := conn.Query("SELECT city, COUNT(*), AVG(age) FROM users GROUP BY city")
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
		rows.Close()
	}
}
