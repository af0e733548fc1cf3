package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/rs/zerolog"

	"github.com/ledgerline/depgraph/pkg/entity"
	"github.com/ledgerline/depgraph/pkg/stores"
)

// ExampleSQLiteStore_SaveEntity persists an entity and reloads it into an arena.
func ExampleSQLiteStore_SaveEntity() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"}, zerolog.Nop())
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	e := entity.New("AAPL", "Stock", map[string]any{"price": 190.5, "quantity": 10})
	if err := store.SaveEntity(ctx, e, stores.AuditActionImported, "example", nil); err != nil {
		log.Fatal(err)
	}

	arena, err := store.LoadArena(ctx)
	if err != nil {
		log.Fatal(err)
	}
	h, _ := arena.Lookup("AAPL")
	loaded, _ := arena.Get(h)
	price, _ := loaded.Attr("price")
	fmt.Println(loaded.Class, price)
	// Output: Stock 190.5
}
