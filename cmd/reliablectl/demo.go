package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fortressi/reliable"
	"github.com/fortressi/reliable/idempotency"
)

func newDemoCmd(a *app) *cobra.Command {
	var (
		callers    int
		hotelFails bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an idempotent payment and a booking saga against in-memory stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			out := cmd.OutOrStdout()

			if err := demoPayment(cmd.Context(), a, registry, out, callers); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := demoBooking(cmd.Context(), a, registry, out, hotelFails); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return printMetricFamilies(registry, out)
		},
	}
	cmd.Flags().IntVar(&callers, "callers", 5, "concurrent callers sharing one idempotency key")
	cmd.Flags().BoolVar(&hotelFails, "hotel-fails", true, "make the hotel step fail so the flight is cancelled")
	return cmd
}

func demoPayment(ctx context.Context, a *app, registry *prometheus.Registry, out io.Writer, callers int) error {
	policy, err := a.cfg.Idempotency.Policy()
	if err != nil {
		return err
	}
	metrics, err := idempotency.NewPrometheusMetrics(&idempotency.PrometheusMetricsConfig{
		Namespace: a.cfg.Metrics.Namespace,
		Registry:  registry,
	})
	if err != nil {
		return err
	}
	coord := idempotency.NewCoordinator[string](idempotency.NewMemoryStore[string](), policy,
		idempotency.WithLogger(a.logger),
		idempotency.WithMetrics(metrics),
	)

	var (
		mu      sync.Mutex
		charges int
		wg      sync.WaitGroup
	)
	charge := func(ctx context.Context) (string, error) {
		mu.Lock()
		charges++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		return "txn-42", nil
	}

	fmt.Fprintf(out, "payment:42 with %d concurrent callers (on_pending=%s)\n", callers, policy.ConflictStrategy())
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := coord.Execute(ctx, "payment:42", "", charge)
			if err != nil {
				results[i] = "error: " + err.Error()
				return
			}
			results[i] = fmt.Sprintf("%s (from cache: %t)", res.Value, res.FromCache)
		}()
	}
	wg.Wait()

	for i, r := range results {
		fmt.Fprintf(out, "  caller %d: %s\n", i+1, r)
	}
	fmt.Fprintf(out, "  card charged %d time(s)\n", charges)
	return nil
}

func demoBooking(ctx context.Context, a *app, registry *prometheus.Registry, out io.Writer, hotelFails bool) error {
	metrics, err := reliable.NewPrometheusMetrics(&reliable.PrometheusMetricsConfig{
		Namespace: a.cfg.Metrics.Namespace,
		Registry:  registry,
	})
	if err != nil {
		return err
	}
	var journals reliable.JournalStore = reliable.NewMemoryJournalStore()
	if a.cfg.Journal.Dir != "" {
		if journals, err = reliable.NewFileJournalStore(a.cfg.Journal.Dir); err != nil {
			return err
		}
	}
	coord := reliable.NewCoordinator(
		reliable.WithLogger(a.logger),
		reliable.WithMetrics(metrics),
		reliable.WithJournalStore(journals),
	)

	flight := reliable.Step(
		func(ctx context.Context) (string, error) {
			fmt.Fprintln(out, "  booked flight FL-100")
			return "FL-100", nil
		},
		func(ctx context.Context, id string) error {
			fmt.Fprintf(out, "  cancelled flight %s\n", id)
			return nil
		},
	).Named("book_flight")

	hotel := func(flightID string) reliable.SagaStep[string] {
		return reliable.Step(
			func(ctx context.Context) (string, error) {
				if hotelFails {
					return "", fmt.Errorf("no rooms near arrival of %s", flightID)
				}
				fmt.Fprintln(out, "  booked hotel HT-7")
				return "HT-7", nil
			},
			func(ctx context.Context, id string) error {
				fmt.Fprintf(out, "  cancelled hotel %s\n", id)
				return nil
			},
		).Named("book_hotel")
	}

	fmt.Fprintln(out, "trip booking saga (flight then hotel)")
	res, err := reliable.RunChain(ctx, coord, reliable.Then(flight, hotel))

	sagaID := res.SagaID
	var sagaErr *reliable.SagaError
	switch {
	case err == nil:
		fmt.Fprintf(out, "  booked: %s\n", res.Value)
	case errors.As(err, &sagaErr):
		sagaID = sagaErr.SagaID
		fmt.Fprintf(out, "  failed at step %d: %v\n", sagaErr.StepFailed, sagaErr.Err)
		fmt.Fprintf(out, "  compensators run=%d failed=%d complete=%t\n",
			sagaErr.CompensatorsRun, sagaErr.CompensatorsFailed, sagaErr.RollbackComplete)
	default:
		return err
	}

	record, err := journals.Load(ctx, sagaID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  journal %s: %s, %d events\n", record.SagaID, record.Status, len(record.Events))
	return nil
}

func printMetricFamilies(registry *prometheus.Registry, out io.Writer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "metrics")
	for _, mf := range families {
		fmt.Fprintf(out, "  %s (%d series)\n", mf.GetName(), len(mf.GetMetric()))
	}
	return nil
}
