// Package retry provides exponential backoff with jitter for the gateway's
// connections to Redis, the SQL user store and Vault.
//
// Bounded retries of a single operation use Do:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return store.Ping(ctx)
//	}, nil)
//
// Long-running reconnect loops that never give up use a Backoff, which
// remembers the attempt count until Reset is called after a success:
//
//	b := retry.NewBackoff(cfg)
//	for {
//	    if err := consume(ctx); err == nil {
//	        b.Reset()
//	        continue
//	    }
//	    if !b.Wait(ctx) {
//	        return
//	    }
//	}
package retry
