// Package activity defines side-effecting activities and the task and
// outcome model the executor uses for each attempt.
//
// Activities are ordinary typed Go functions. NewDefinition and its
// arity variants close over the payload converter at registration time, so
// the executor only ever sees payloads in and a payload out.
//
//	def := activity.NewDefinition2("answer_query",
//	    func(ctx context.Context, question string, corpus rag.Corpus) (string, error) {
//	        ...
//	    },
//	    activity.WithTimeout(30*time.Second),
//	)
//	reg.Register(def)
package activity
