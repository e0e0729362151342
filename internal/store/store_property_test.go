package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-alerts/internal/models"
)

// fireOnce mimics the alert pass: read the active row, compute the next state, write conditionally.
func fireOnce(ctx context.Context, s Store, id int64, at time.Time) bool {
	rows, err := s.ListActivePriceAlerts(ctx)
	if err != nil {
		return false
	}
	for _, r := range rows {
		if r.Alert.ID != id {
			continue
		}
		next := r.Alert
		next.CurrentTriggers++
		next.LastTriggeredAt = &at
		if next.CurrentTriggers >= next.TriggerLimit {
			next.Status = models.AlertCompleted
		}
		return s.ApplyPriceTrigger(ctx, r.Alert, next) == nil
	}
	return false
}

// Property: however many concurrent passes race on one rule, the number of
// successful trigger writes never exceeds trigger_limit and the rule ends
// COMPLETED exactly when the limit was reached.
func TestProperty_TriggerLimitNeverExceeded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	sqlitePath := filepath.Join(t.TempDir(), "property.db")
	sqliteStore, err := NewSQLiteStore(sqlitePath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer sqliteStore.Close()

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}

	for name, s := range stores {
		s := s
		properties.Property(name+": successful writes <= trigger_limit", prop.ForAll(
			func(limit, workers, rounds int) bool {
				ctx := context.Background()
				a := newAlert("prop", "AAPL", limit)
				if err := s.CreatePriceAlert(ctx, a); err != nil {
					t.Logf("create: %v", err)
					return false
				}

				var (
					mu   sync.Mutex
					wins int
					wg   sync.WaitGroup
				)
				at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
				for w := 0; w < workers; w++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for r := 0; r < rounds; r++ {
							if fireOnce(ctx, s, a.ID, at) {
								mu.Lock()
								wins++
								mu.Unlock()
							}
						}
					}()
				}
				wg.Wait()

				got, err := s.GetPriceAlert(ctx, a.ID)
				if err != nil {
					return false
				}
				if wins > limit || got.CurrentTriggers != wins {
					t.Logf("limit=%d wins=%d stored=%d", limit, wins, got.CurrentTriggers)
					return false
				}
				return (got.Status == models.AlertCompleted) == (got.CurrentTriggers == limit)
			},
			gen.IntRange(1, 5),
			gen.IntRange(1, 4),
			gen.IntRange(1, 6),
		))
	}

	properties.TestingRun(t)
}
