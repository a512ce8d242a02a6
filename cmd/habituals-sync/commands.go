package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/achievements"
	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/mutations"
	"github.com/MarcoPoloResearchLab/habituals/internal/offlinequeue"
)

func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Persist a habit mutation for later delivery",
	}

	var habitID, timeZone string
	markDone := &cobra.Command{
		Use:   "mark-done",
		Short: "Queue a completion for a habit",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := habits.MarkDoneInput{
				HabitID:        habitID,
				IdempotencyKey: habits.NewIdempotencyKey(),
				OccurredAtTZ:   habits.NewOccurredAt(timeZone, time.Now()),
			}
			return enqueue(cmd, offlinequeue.NewOp{Kind: offlinequeue.KindMarkDone, Input: input, IdempotencyKey: input.IdempotencyKey})
		},
	}
	markDone.Flags().StringVar(&habitID, "habit", "", "Habit id")
	markDone.Flags().StringVar(&timeZone, "tz", "", "IANA zone of the completion (defaults to the local zone)")
	_ = markDone.MarkFlagRequired("habit")

	var eventID string
	undo := &cobra.Command{
		Use:   "undo",
		Short: "Queue the retraction of a completion event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, offlinequeue.NewOp{Kind: offlinequeue.KindUndoEvent, Input: eventID, IdempotencyKey: mutations.UndoKey(eventID)})
		},
	}
	undo.Flags().StringVar(&eventID, "event", "", "Habit event id")
	_ = undo.MarkFlagRequired("event")

	var title string
	createHabit := &cobra.Command{
		Use:   "create-habit",
		Short: "Queue the creation of a habit",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := habits.NewHabitInput{ID: habits.NewClientHabitID(), Title: title}
			return enqueue(cmd, offlinequeue.NewOp{Kind: offlinequeue.KindCreateHabit, Input: input, IdempotencyKey: "create:" + input.ID})
		},
	}
	createHabit.Flags().StringVar(&title, "title", "", "Habit title")
	_ = createHabit.MarkFlagRequired("title")

	cmd.AddCommand(markDone, undo, createHabit)
	return cmd
}

func enqueue(cmd *cobra.Command, op offlinequeue.NewOp) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	queued, added, err := rt.queue.Enqueue(cmd.Context(), op)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(cmd.ErrOrStderr(), "op with key %s already pending\n", op.IdempotencyKey)
		return nil
	}
	return printJSON(cmd, queued)
}

// newMarkDoneCommand runs the full optimistic pipeline: the completion is queued, delivered
// directly, and any achievements it earned are printed.
func newMarkDoneCommand() *cobra.Command {
	var habitID, timeZone string
	cmd := &cobra.Command{
		Use:   "mark-done",
		Short: "Record a completion now, queueing it if the API is unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			cache := mutations.NewMemoryCache(rt.repository)
			if _, err := cache.Load(cmd.Context(), mutations.HabitsKey); err != nil {
				rt.logger.Debug("habit list unavailable, achievements skipped", zap.Error(err))
			}
			notifier := mutations.NotifierFunc(func(_ context.Context, achievement achievements.Achievement) {
				fmt.Fprintf(cmd.ErrOrStderr(), "achievement unlocked: %s (%s)\n", achievement.Title, achievement.Description)
			})
			pipeline, err := mutations.NewPipeline(mutations.PipelineConfig{
				Cache:      cache,
				Repository: rt.repository,
				Enqueuer:   offlinequeue.QueueEnqueuer(rt.queue),
				Notifier:   notifier,
				Logger:     rt.logger,
			})
			if err != nil {
				return err
			}
			result, err := pipeline.MarkDone(cmd.Context(), habits.MarkDoneInput{
				HabitID:        habitID,
				IdempotencyKey: habits.NewIdempotencyKey(),
				OccurredAtTZ:   habits.NewOccurredAt(timeZone, time.Now()),
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "delivery failed, %d op(s) pending: %v\n", rt.queue.Len(cmd.Context()), err)
				return err
			}
			if _, err := rt.queue.Drain(cmd.Context()); err != nil {
				rt.logger.Warn("queue drain failed", zap.Error(err))
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&habitID, "habit", "", "Habit id")
	cmd.Flags().StringVar(&timeZone, "tz", "", "IANA zone of the completion (defaults to the local zone)")
	_ = cmd.MarkFlagRequired("habit")
	return cmd
}

func newDrainCommand() *cobra.Command {
	var metricsFile string
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending mutations in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.queue.Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d retries=%d dropped_permanent=%d dropped_exhausted=%d remaining=%d\n",
				report.Delivered, report.Retries, report.DroppedPermanent, report.DroppedExhausted, rt.queue.Len(cmd.Context()))
			if metricsFile != "" {
				if err := rt.metrics.WriteTextfile(metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write queue counters in Prometheus text format to this file")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the pending queue snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd, rt.queue.Read(cmd.Context()))
		},
	}
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every pending mutation",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.queue.Clear(cmd.Context())
		},
	}
}

func newClaimCommand() *cobra.Command {
	var sku, txID string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Redeem a purchased consumable into the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			wallet, err := rt.store.Claim(cmd.Context(), sku, txID)
			if err != nil {
				return err
			}
			return printJSON(cmd, wallet)
		},
	}
	cmd.Flags().StringVar(&sku, "sku", "", "Consumable sku")
	cmd.Flags().StringVar(&txID, "tx", "", "Store transaction id")
	return cmd
}

func newWalletCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Print wallet, entitlements, and remaining claim caps",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			wallet, err := rt.store.Wallet(cmd.Context())
			if err != nil {
				return err
			}
			entitlement, err := rt.store.Entitlement(cmd.Context())
			if err != nil {
				return err
			}
			caps, err := rt.store.CapsRemaining(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"wallet": wallet, "entitlements": entitlement, "caps": caps})
		},
	}
}
