// Package ext defines the extension system for ragflow.
//
// Extensions are notified of lifecycle events and can react to them,
// recording metrics or writing audit logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted]: a run was created for a new run key
//   - [RunCompleted]: the workflow function returned a result
//   - [RunFailed]: the workflow function returned an error
//   - [RunCancelled]: the run was cancelled
//
// # Step Hooks
//
//   - [StepScheduled]: an activity invocation was recorded in the log
//   - [StepCompleted]: the invocation succeeded
//   - [StepFailed]: the invocation exhausted its attempts
//   - [StepRetrying]: an attempt failed and another will follow
//
// # Activity Attempt Hooks
//
//   - [ActivityStarted]: a worker began an attempt
//   - [ActivityCompleted]: the attempt returned a result
//   - [ActivityFailed]: the attempt failed, timed out or was cancelled
//
// # Other Hooks
//
//   - [Shutdown]: the orchestrator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
