// Package reliable executes sagas: sequences and groups of fallible steps
// whose successful effects are undone by compensators when a later step fails.
//
// Sagas orchestrate a set of tasks that can fail. The saga pattern provides
// useful semantics for unwinding the whole operation when any task fails.
//
// Overview
//
//  1. Describe each unit of work as a SagaStep:
//     - An Action performs the work and returns a value.
//     - A Compensator receives that value and undoes the work.
//  2. Compose steps:
//     - Then(first, next) chains two steps, next seeing first's value.
//     - Parallel(steps...) runs steps concurrently and waits for all.
//     - Race(steps...) runs steps concurrently and keeps the first success.
//  3. Execute with a Coordinator:
//     - Run, RunChain, RunParallel and RunRace return a SagaResult on
//       success or a *SagaError after rolling back on failure.
//     - Every successful step with a compensator adds one entry to the
//       execution's Ledger. Rollback walks it newest first and never stops
//       on a failing compensator; RollbackComplete reports the outcome.
//  4. Observe:
//     - Each execution keeps a Journal of step events. Configure a
//       JournalStore to persist it.
//
// Example:
//
//	coord := reliable.NewCoordinator(reliable.WithLogger(logger))
//
//	flight := reliable.Step(
//		func(ctx context.Context) (string, error) { return airline.Book(ctx, trip) },
//		func(ctx context.Context, id string) error { return airline.Cancel(ctx, id) },
//	)
//	res, err := reliable.RunChain(ctx, coord, reliable.Then(flight, func(flightID string) reliable.SagaStep[string] {
//		return reliable.Step(
//			func(ctx context.Context) (string, error) { return hotels.Book(ctx, trip, flightID) },
//			func(ctx context.Context, id string) error { return hotels.Cancel(ctx, id) },
//		)
//	}))
//
// Idempotent execution of single operations lives in the idempotency
// subpackage.
package reliable
