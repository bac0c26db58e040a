package query

// QueryRequest is the question a run answers.
type QueryRequest struct {
	Question string `json:"question"`
}

// AnswerResult is the terminal value of a query run.
type AnswerResult struct {
	Answer string `json:"answer"`
}
