// Package ragflow is a durable workflow orchestration core for
// retrieval-augmented question answering.
//
// A question submitted through the gateway becomes a workflow run keyed by
// the question text. The coordinator schedules a fixed sequence of
// activities on a task queue, records every outcome in a replay log, and
// resumes from that log after a crash. Values crossing the activity
// boundary go through an ordered payload converter chain, so composite
// objects such as a processing graph travel as first-class payloads.
//
// # Quick Start
//
//	o, err := ragflow.New(
//	    ragflow.WithStore(memory.New()),
//	    ragflow.WithStepTimeout("run_query", 45*time.Second),
//	)
//	eng, err := engine.Build(o)
//	err = eng.Start(ctx)
//	run, err := eng.ExecuteWorkflow(ctx, query.WorkflowPipeline, "Who lives in Rome?")
//
// # Architecture
//
// Each subsystem (workflow, activity, converter) defines the interfaces it
// needs. The store packages implement the workflow store contract in
// memory, Redis, and PostgreSQL.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package ragflow
