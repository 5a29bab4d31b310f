package tests

import (
	"context"
	"fmt"
	"testing"

	"github.com/maxBogovick/memodb"
	"github.com/maxBogovick/memodb/db"
)

func benchEngine(b *testing.B) *db.Engine {
	b.Helper()
	engine := memodb.Open()
	ctx := context.Background()
	if _, err := engine.Execute(ctx, "CREATE TABLE bench (id INT PRIMARY KEY, name TEXT, age INT, city TEXT)"); err != nil {
		b.Fatalf("Failed to create table: %v", err)
	}
	for i := 1; i <= 1000; i++ {
		stmt := fmt.Sprintf("INSERT INTO bench VALUES (%d, 'user%d', %d, 'city%d')", i, i, 20+i%50, i%10)
		if _, err := engine.Execute(ctx, stmt); err != nil {
			b.Fatalf("Failed to insert: %v", err)
		}
	}
	return engine
}

func BenchmarkInsert(b *testing.B) {
	engine := memodb.Open()
	ctx := context.Background()
	engine.Execute(ctx, "CREATE TABLE bench (id INT PRIMARY KEY, v TEXT)")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stmt := fmt.Sprintf("INSERT INTO bench VALUES (%d, 'v%d')", i, i)
		if _, err := engine.Execute(ctx, stmt); err != nil {
			b.Fatalf("Insert failed: %v", err)
		}
	}
}

func BenchmarkFullScan(b *testing.B) {
	engine := benchEngine(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Query(ctx, "SELECT * FROM bench"); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkFilteredScan(b *testing.B) {
	engine := benchEngine(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Query(ctx, "SELECT id FROM bench WHERE age > 40 AND city = 'city3'"); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkAggregate(b *testing.B) {
	engine := benchEngine(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Query(ctx, "SELECT city, COUNT(*), AVG(age) FROM bench GROUP BY city"); err != nil {
			b.Fatalf("Query failed: %v", err)
		}
	}
}

func BenchmarkUpdate(b *testing.B) {
	engine := benchEngine(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stmt := fmt.Sprintf("UPDATE bench SET age = %d WHERE id = %d", 30+i%40, 1+i%1000)
		if _, err := engine.Execute(ctx, stmt); err != nil {
			b.Fatalf("Update failed: %v", err)
		}
	}
}

func BenchmarkFork(b *testing.B) {
	engine := benchEngine(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Fork()
	}
}
