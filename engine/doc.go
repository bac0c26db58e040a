// Package engine wires the ragflow subsystems together: the payload
// converter, the activity registry and worker pool, the workflow runner,
// the extension registry and the query activities and workflows.
//
// The engine package exists to break an import cycle: the root ragflow
// package defines Config and Entity, which every subsystem imports, so it
// cannot import those subsystems back. Engine sits above all subsystem
// packages and below the gateway and the CLI.
//
// # Building an Engine
//
//	o, err := ragflow.New(
//	    ragflow.WithStore(memory.New()),
//	    ragflow.WithConcurrency(4),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithRAGConfig(rag.DefaultConfig()),
//	    engine.WithQueueConfig(queue.Config{Name: "rag-task-queue", RateLimit: 50}),
//	)
//
// # Running
//
//	_ = eng.Start(ctx)
//	run, err := eng.ExecuteWorkflow(ctx, "query-pipeline", "Who lives in Rome?")
//	_ = eng.Stop(ctx)
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] appends a middleware to the execution chain
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithQueueConfig] configures per-queue rate limits and concurrency
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
//   - [WithRAGConfig] selects the pipeline's generator and parameters
//   - [WithConverters] chains extra payload encodings before the defaults
package engine
