// Package idempotency runs operations at most once per key.
//
// A Coordinator consults a Store before running an operation. The first caller
// for a key claims it with an atomic SetPending, runs the operation and
// records the outcome; later callers receive the cached value. Callers that
// arrive while the key is pending wait, fail fast or force their way through
// depending on the Policy's conflict strategy.
//
// Basic usage:
//
//	store := idempotency.NewMemoryStore[Receipt]()
//	coord := idempotency.NewCoordinator(store, idempotency.NewPolicy().WithTTL(time.Hour))
//
//	res, err := coord.Execute(ctx, "payment:42", "", func(ctx context.Context) (Receipt, error) {
//		return gateway.Charge(ctx, 42)
//	})
//	if errors.Is(err, idempotency.ErrConflict) {
//		// someone else is charging order 42 right now
//	}
//
// Stores backed by SQL and Redis live in the sqlstore and redisstore
// subpackages.
package idempotency
