// Package semsearch embeds the semantic search pipeline in a Go program.
//
// The client builds the same pipeline as the semsearch server: the query is
// embedded, the vector store is searched, hits are ranked and formatted.
//
//	client, _ := semsearch.New(ctx,
//	    semsearch.WithLocalStore("kb.db"),
//	    semsearch.WithOpenAI(os.Getenv("OPENAI_API_KEY"), "", "text-embedding-3-small"),
//	    semsearch.WithDimensions(1536),
//	)
//	defer client.Close()
//
//	_ = client.Upsert(ctx, semsearch.Document{ID: "a1", Text: "..."}, vector)
//	resp, _ := client.Search(ctx, "how to control blood sugar",
//	    semsearch.TopK(5),
//	    semsearch.MinScore(0.5),
//	)
//	for _, r := range resp.Results {
//	    fmt.Println(r.ID, r.Score)
//	}
package semsearch
