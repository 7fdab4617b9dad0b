package facematch_test

import (
	"context"
	"fmt"
	"log"
	"time"

	facematch "github.com/mcpmessenger/shine-skincare-app-sub001"
	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/cache"
)

// Example_addAndSearch demonstrates the embedding-producer and query-caller
// flow: store an embedding, then retrieve the most similar prior case.
func Example_addAndSearch() {
	ctx := context.Background()
	eng, err := facematch.New(3)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	// An external feature extractor produced this embedding.
	err = eng.Add(ctx, "case-0017", []float32{0.3, 0.9, 0.1}, map[string]any{
		"skin_type": "oily",
	})
	if err != nil {
		log.Fatal(err)
	}

	results, err := eng.Search(ctx, []float32{0.3, 0.9, 0.1}, 1)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %.2f\n", results[0].ID, results[0].Score)
	// Output: case-0017 1.00
}

// Example_batchAdd demonstrates batch insertion with per-item error
// reporting.
func Example_batchAdd() {
	ctx := context.Background()
	eng, err := facematch.New(3)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	errs := eng.BatchAdd(ctx, []facematch.Record{
		{ID: "case-1", Vector: []float32{1, 0, 0}},
		{ID: "case-2", Vector: []float32{0, 1, 0}},
		{ID: "case-3", Vector: []float32{0, 0, 1}},
	})

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
		}
	}
	fmt.Printf("Inserted %d embeddings\n", inserted)
	// Output: Inserted 3 embeddings
}

// Example_filteredSearch demonstrates metadata filtering, the contract
// consumed by demographic-aware re-rankers.
func Example_filteredSearch() {
	ctx := context.Background()
	eng, err := facematch.New(3)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	eng.Add(ctx, "oily-1", []float32{1, 0, 0}, map[string]any{"skin_type": "oily"})
	eng.Add(ctx, "dry-1", []float32{0.9, 0.1, 0}, map[string]any{"skin_type": "dry"})

	results, err := eng.Search(ctx, []float32{1, 0, 0}, 5, func(o *facematch.SearchOptions) {
		o.Filter = map[string]string{"skin_type": "dry"}
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Found %d dry-skin case(s)\n", len(results))
	// Output: Found 1 dry-skin case(s)
}

// Example_persistence demonstrates saving to a blob store and loading into
// a fresh engine.
func Example_persistence() {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	eng, err := facematch.New(3, facematch.WithBlobStore(blobs))
	if err != nil {
		log.Fatal(err)
	}
	eng.Add(ctx, "case-1", []float32{1, 0, 0}, nil)
	if err := eng.Save(ctx); err != nil {
		log.Fatal(err)
	}
	eng.Close()

	restored, err := facematch.New(3, facematch.WithBlobStore(blobs))
	if err != nil {
		log.Fatal(err)
	}
	defer restored.Close()
	if err := restored.Load(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Restored %d embedding(s)\n", restored.Count())
	// Output: Restored 1 embedding(s)
}

// Example_cacheConfiguration demonstrates tuning the result cache.
func Example_cacheConfiguration() {
	eng, err := facematch.New(128,
		facematch.WithCache(
			cache.WithMaxBytes(32<<20),
			cache.WithPolicy(cache.PolicyAdaptive),
			cache.WithDefaultTTL(time.Hour),
		),
		facematch.WithSaveEvery(100),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	fmt.Println("Engine created with adaptive cache")
	// Output: Engine created with adaptive cache
}
