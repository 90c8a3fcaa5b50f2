// Package batch dispatches independent HTTP requests concurrently and
// collects one outcome per request.
//
// The package has two calling conventions:
//
//   - DispatchBatch never fails. Every Request yields a Response at the same
//     index, carrying either Data or Error.
//   - Dispatch, DispatchWithRetry, Fetch and FetchWithRetry return an error
//     (a *Error, possibly wrapped) when the call fails.
//
// # Basic Usage
//
//	d, err := batch.New(batch.DefaultConfig("https://api.example.com"))
//	if err != nil {
//		return err
//	}
//
//	responses := d.DispatchBatch(ctx, []batch.Request{
//		{ID: "feed", Method: batch.MethodGet, Endpoint: "/feed"},
//		{ID: "coin", Method: batch.MethodPost, Endpoint: "/coins", Body: newCoin},
//	})
//	for _, r := range responses {
//		if !r.OK() {
//			// r.Status and r.Error describe the failure
//		}
//	}
//
// # Retry
//
// DispatchWithRetry waits InitialBackoff * BackoffMultiplier^(n-1) before
// attempt n+1 (2s, 4s, 8s with the defaults). Client errors are returned
// without retry unless Config.RetryClientErrors is set.
//
// # Health
//
//	report := d.CheckHealth(ctx, []string{"/users/health", "/coins/health"})
//	// report.Status is "healthy" only when every endpoint answered 200
package batch
