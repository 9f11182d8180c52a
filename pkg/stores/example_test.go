package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateRun records a plan and a build run against it.
func ExampleSQLiteStore_CreateRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	plan := &engine.BuildPlan{Recipe: "pcl", Version: "1.8.1", Args: []string{"-Wno-dev"}}
	_ = engine.Seal(plan)
	if err := store.SavePlan(ctx, plan); err != nil {
		log.Fatal(err)
	}

	run := &stores.Run{
		ID:        "run-001",
		PlanID:    plan.ID,
		Status:    engine.RunStatusPending,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	_ = store.UpdateRunStatus(ctx, run.ID, engine.RunStatusSucceeded, 0, nil)

	got, _ := store.GetRun(ctx, run.ID)
	fmt.Println(got.Status, got.Target)
	// Output: succeeded local
}
