// Package gateway is the HTTP entry point. POST /query submits a question
// as a workflow run keyed by the question and answers with the run's
// result; the /v1 routes expose runs, their replay logs and cancellation
// for operators.
//
// Failures of any kind answer 500 with {"detail": message}; the full error
// chain is logged server-side.
package gateway
