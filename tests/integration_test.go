// Package tests holds cross-package end-to-end scenarios: SQL plus
// durability plus the persistence object layer working together.
package tests

import (
	"context"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v6/memfs"

	"github.com/maxBogovick/memodb"
	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/db"
	"github.com/maxBogovick/memodb/persist"
	"github.com/maxBogovick/memodb/wal"
)

type account struct {
	Owner   string `json:"owner" persist:"unique"`
	Balance int64  `json:"balance"`
	Frozen  bool   `json:"frozen"`
}

type withdraw struct {
	Amount int64
}

func (withdraw) CommandType() string { return "withdraw" }

func accountReducer(state account, cmd Command) (account, error) {
	w := cmd.(withdraw)
	if state.Frozen {
		return state, errFrozen
	}
	if state.Balance < w.Amount {
		return state, errInsufficient
	}
	state.Balance -= w.Amount
	return state, nil
}

type Command = persist.Command

var (
	errFrozen       = &businessError{"account frozen"}
	errInsufficient = &businessError{"insufficient funds"}
)

type businessError struct{ msg string }

func (e *businessError) Error() string { return e.msg }

func TestSQLThroughPersistenceLifecycle(t *testing.T) {
	fs := memfs.New()
	ctx := context.Background()

	engine := db.NewEngine()
	if err := engine.EnablePersistenceFS(fs, wal.ModeStrict); err != nil {
		t.Fatalf("EnablePersistence failed: %v", err)
	}

	accounts, err := persist.OpenCollection[account](ctx, engine, "accounts", persist.Config[account]{
		Apply: accountReducer,
	})
	if err != nil {
		t.Fatalf("OpenCollection failed: %v", err)
	}

	created, err := accounts.CreateOne(ctx, account{Owner: "alice", Balance: 100})
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}
	if _, err := accounts.Apply(ctx, created.ID, withdraw{Amount: 30}, persist.ApplyOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Crash without shutdown; reopen over the same filesystem.
	recovered := db.NewEngine()
	if err := recovered.EnablePersistenceFS(fs, wal.ModeStrict); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}
	reopened, err := persist.OpenCollection[account](ctx, recovered, "accounts", persist.Config[account]{
		Apply: accountReducer,
	})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}

	loaded, err := reopened.GetOne(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetOne after recovery failed: %v", err)
	}
	if loaded.Version != 2 || loaded.State.Balance != 70 {
		t.Errorf("Recovered aggregate wrong: %+v", loaded)
	}

	audits, err := reopened.Audits(ctx, created.ID)
	if err != nil || len(audits) != 2 {
		t.Errorf("Audit stream lost in recovery: %v (%d rows)", err, len(audits))
	}
}

func TestConcurrentWithdrawalsNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	engine := memodb.Open()

	accounts, err := persist.OpenCollection[account](ctx, engine, "accounts", persist.Config[account]{
		Apply: accountReducer,
		Retry: persist.RetryPolicy{MaxAttempts: 10, BaseBackoff: 1, MaxBackoff: 8},
	})
	if err != nil {
		t.Fatalf("OpenCollection failed: %v", err)
	}
	created, err := accounts.CreateOne(ctx, account{Owner: "bob", Balance: 100})
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := accounts.Apply(ctx, created.ID, withdraw{Amount: 10}, persist.ApplyOptions{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	loaded, err := accounts.GetOne(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if loaded.State.Balance != 100-int64(succeeded)*10 {
		t.Errorf("Lost update: %d successes but balance %d", succeeded, loaded.State.Balance)
	}
	if loaded.Version != uint64(1+succeeded) {
		t.Errorf("Version %d does not match %d successes", loaded.Version, succeeded)
	}
}

func TestExpectedVersionRace(t *testing.T) {
	ctx := context.Background()
	engine := memodb.Open()

	accounts, err := persist.OpenCollection[account](ctx, engine, "accounts", persist.Config[account]{
		Apply: accountReducer,
	})
	if err != nil {
		t.Fatalf("OpenCollection failed: %v", err)
	}
	created, _ := accounts.CreateOne(ctx, account{Owner: "carol", Balance: 100})

	// Two CAS writes against version 1: exactly one may win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = accounts.Apply(ctx, created.ID, withdraw{Amount: 10},
				persist.ApplyOptions{ExpectedVersion: 1})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if kind := persist.KindOf(err); kind != persist.KindOptimisticLock && kind != persist.KindWriteWrite {
			t.Errorf("Loser should see an optimistic or write-write conflict, got %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}

	loaded, _ := accounts.GetOne(ctx, created.ID)
	if loaded.Version != 2 || loaded.State.Balance != 90 {
		t.Errorf("Final state wrong: %+v", loaded)
	}
}

func TestForkedEngineIsFullyIndependent(t *testing.T) {
	ctx := context.Background()
	engine := memodb.Open()

	engine.Execute(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v INT)")
	for _, stmt := range []string{
		"INSERT INTO kv VALUES ('a', 1)",
		"INSERT INTO kv VALUES ('b', 2)",
	} {
		if _, err := engine.Execute(ctx, stmt); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	fork := engine.Fork()
	fork.Execute(ctx, "UPDATE kv SET v = 100 WHERE k = 'a'")
	fork.Execute(ctx, "INSERT INTO kv VALUES ('c', 3)")
	engine.Execute(ctx, "DELETE FROM kv WHERE k = 'b'")

	orig, _ := engine.Query(ctx, "SELECT v FROM kv WHERE k = 'a'")
	if orig.Rows[0][0].Int != 1 {
		t.Errorf("Fork write leaked into the original")
	}
	forked, _ := fork.Query(ctx, "SELECT COUNT(*) FROM kv")
	if forked.Rows[0][0].Int != 3 {
		t.Errorf("Fork expected 3 rows, got %d", forked.Rows[0][0].Int)
	}
	origCount, _ := engine.Query(ctx, "SELECT COUNT(*) FROM kv")
	if origCount.Rows[0][0].Int != 1 {
		t.Errorf("Original expected 1 row, got %d", origCount.Rows[0][0].Int)
	}
}

func TestWALReplayMatchesLiveState(t *testing.T) {
	fs := memfs.New()
	ctx := context.Background()

	engine := db.NewEngine()
	engine.EnablePersistenceFS(fs, wal.ModeStrict)
	engine.Execute(ctx, "CREATE TABLE t (id INT PRIMARY KEY, v INT)")
	engine.Execute(ctx, "INSERT INTO t VALUES (1, 1), (2, 2), (3, 3)")
	engine.Execute(ctx, "UPDATE t SET v = v * 10 WHERE id > 1")
	engine.Execute(ctx, "DELETE FROM t WHERE id = 3")

	live, _ := engine.Query(ctx, "SELECT id, v FROM t ORDER BY id")

	replayed := db.NewEngine()
	if err := replayed.EnablePersistenceFS(fs, wal.ModeStrict); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	after, _ := replayed.Query(ctx, "SELECT id, v FROM t ORDER BY id")

	if len(live.Rows) != len(after.Rows) {
		t.Fatalf("Replay row count differs: %d vs %d", len(live.Rows), len(after.Rows))
	}
	for i := range live.Rows {
		for j := range live.Rows[i] {
			if live.Rows[i][j] != after.Rows[i][j] {
				t.Errorf("Row %d differs: %v vs %v", i, live.Rows[i], after.Rows[i])
			}
		}
	}
}

func TestVacuumPreservesLiveSnapshots(t *testing.T) {
	ctx := context.Background()
	engine := memodb.Open()
	engine.Execute(ctx, "CREATE TABLE t (id INT)")
	engine.Execute(ctx, "INSERT INTO t VALUES (1), (2), (3)")

	engine.Execute(ctx, "BEGIN")
	before, _ := engine.Query(ctx, "SELECT COUNT(*) FROM t")
	if before.Rows[0][0].Int != 3 {
		t.Fatalf("Expected 3 rows, got %d", before.Rows[0][0].Int)
	}

	// Deleting from another transaction and vacuuming must not disturb
	// the open snapshot.
	if err := engine.Transaction(ctx, func(tx *db.Tx) error {
		_, err := tx.Execute(ctx, "DELETE FROM t WHERE id = 1")
		return err
	}); err != nil {
		t.Fatalf("Concurrent delete failed: %v", err)
	}
	engine.Vacuum()

	during, _ := engine.Query(ctx, "SELECT COUNT(*) FROM t")
	if during.Rows[0][0].Int != 3 {
		t.Errorf("Open snapshot lost a row to vacuum: %d", during.Rows[0][0].Int)
	}
	engine.Execute(ctx, "COMMIT")

	after, _ := engine.Query(ctx, "SELECT COUNT(*) FROM t")
	if after.Rows[0][0].Int != 2 {
		t.Errorf("Expected 2 rows after commit, got %d", after.Rows[0][0].Int)
	}
}

func TestErrorKindSurface(t *testing.T) {
	ctx := context.Background()
	engine := memodb.Open()
	engine.Execute(ctx, "CREATE TABLE t (id INT PRIMARY KEY)")

	_, err := engine.Execute(ctx, "INSERT INTO t VALUES (1), (1)")
	if !core.IsKind(err, core.KindConstraintViolation) {
		t.Errorf("Expected ConstraintViolation, got %v", err)
	}

	accounts, _ := persist.OpenCollection[account](ctx, engine, "accounts", persist.Config[account]{
		Apply: accountReducer,
	})
	created, _ := accounts.CreateOne(ctx, account{Owner: "dave", Balance: 5})
	_, err = accounts.Apply(ctx, created.ID, withdraw{Amount: 10}, persist.ApplyOptions{})
	if persist.KindOf(err) != persist.KindValidation {
		t.Errorf("Business failure should classify as Validation, got %v", err)
	}
}
