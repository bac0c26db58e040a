package redis

// Redis key naming conventions for ragflow data.
// All keys are prefixed with "ragflow:" to avoid collisions.

const keyPrefix = "ragflow:"

// ── Run keys ──

// runKey returns the key for a run entity: ragflow:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIndexKey is the Sorted Set of run IDs scored by creation time.
const runIndexKey = keyPrefix + "runs"

// activeKey returns the key holding the ID of the running run for a run
// key: ragflow:active:{key}
func activeKey(key string) string { return keyPrefix + "active:" + key }

// ── Invocation keys ──

// invocationsKey returns the Hash of seq to invocation record for a run:
// ragflow:invocations:{runID}
func invocationsKey(runID string) string { return keyPrefix + "invocations:" + runID }
