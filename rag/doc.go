// Package rag provides the retrieval and generation stages of the query
// pipeline: a BM25 retriever over an in-memory corpus, a Jinja prompt
// builder, and two generators (extractive and OpenAI-compatible chat).
//
// Every stage is a graph.Component whose Params fully describe it, so a
// pipeline built from them travels between workflow and activity as a
// graph/v1 payload and is rebuilt through the factories RegisterComponents
// installs.
//
//	reg := graph.NewRegistry()
//	rag.RegisterComponents(reg)
//	p, _ := rag.BuildPipeline(
//	    rag.NewBM25Retriever(rag.SeedCorpus(), rag.DefaultTopK),
//	    rag.MustPromptBuilder(rag.DefaultTemplate),
//	    rag.NewExtractiveGenerator(),
//	)
//	answer, _ := rag.RunPipeline(ctx, p, "Who lives in Rome?")
package rag
