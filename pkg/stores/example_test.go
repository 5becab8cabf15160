package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tracklane/tracklane/pkg/engine"
	"github.com/tracklane/tracklane/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            stores.MemoryPath, // Use in-memory database for example
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleRuleStore_Filter demonstrates loading the enabled rules of an event type.
func ExampleRuleStore_Filter() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.Rules().Save(ctx, engine.Record{
		"id":         "rule-001",
		"name":       "Welcome new visitors",
		"enabled":    true,
		"event_type": "page_view",
		"flow":       map[string]interface{}{"id": "flow-welcome"},
	})

	recs, err := store.Rules().Filter(ctx, engine.RuleQuery{EventType: "page_view", Enabled: true})
	if err != nil {
		log.Fatal(err)
	}

	parsed := engine.ParseRule(recs[0])
	fmt.Printf("Rule: %s, Flow: %s\n", parsed.Rule.Name, parsed.Rule.Flow.ID)
	// Output: Rule: Welcome new visitors, Flow: flow-welcome
}

// ExampleProfileStore_FindActiveByKeys demonstrates looking up merge candidates.
func ExampleProfileStore_FindActiveByKeys() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	for _, id := range []string{"profile-b", "profile-a"} {
		p := engine.NewProfile(id)
		p.Traits.Public["email"] = "ann@example.com"
		_ = store.Profiles().Save(ctx, p)
	}

	found, err := store.Profiles().FindActiveByKeys(ctx, []engine.KeyValue{
		{Field: "traits.public.email", Value: "ann@example.com"},
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, p := range found {
		fmt.Println(p.ID)
	}
	// Output:
	// profile-a
	// profile-b
}

// ExampleDebugStore_List demonstrates reading back the debug records of an event.
func ExampleDebugStore_List() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.Debug().BulkSave(ctx, []engine.DebugRecord{{
		ID:        "debug-001",
		Timestamp: time.Now(),
		EventID:   "event-001",
		EventType: "purchase",
		FlowID:    "flow-upsell",
		RuleName:  "Upsell buyers",
		Errors:    []engine.DebugError{{Class: engine.ErrorClassExecution, Message: "node failed"}},
	}})

	eventID := "event-001"
	records, err := store.Debug().List(ctx, &eventID, true, 10, 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Records: %d, Error: [%s] %s\n", len(records), records[0].Errors[0].Class, records[0].Errors[0].Message)
	// Output: Records: 1, Error: [execution] node failed
}
