// Package query defines the activities and workflows that answer a
// question over the seed corpus.
//
// Two workflows are registered. "query-pipeline" builds the retrieval
// pipeline step by step, with each stage spec produced by its own activity
// and the assembled pipeline carried between activities as a graph/v1
// payload. "query" is the two-step form that seeds the corpus and answers
// in one activity.
package query
