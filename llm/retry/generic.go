package retry

import "context"

// DoWithResult is a type-safe generic wrapper around Retryer.DoWithResult.
//
//	hits, err := retry.DoWithResult(r, ctx, func() ([]rag.RetrievedContext, error) {
//	    return searcher.Search(ctx, req)
//	})
func DoWithResult[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}
