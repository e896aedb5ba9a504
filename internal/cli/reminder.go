package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Reminders/internal/domain"
)

// ReminderReader — чтение напоминаний из хранилища.
type ReminderReader interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	GetByID(ctx context.Context, id int64) (*domain.Reminder, error)
}

var reminderHeaders = []string{"ID", "RECIPIENT", "SCHEDULED", "SENT", "MESSAGE"}

// NewDueCmd создаёт команду due.
func NewDueCmd(storeFn func(ctx context.Context) (ReminderReader, error), outputFn func() *Output) *cobra.Command {
	var limit int
	var at string

	cmd := &cobra.Command{
		Use:   "due",
		Short: "List reminders that are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q, expected RFC3339: %w", at, err)
				}
				now = parsed
			}

			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			reminders, err := store.FindDue(cmd.Context(), now, limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(reminders))
			for i := range reminders {
				rows[i] = reminderRow(&reminders[i])
			}
			if reminders == nil {
				reminders = []domain.Reminder{}
			}
			return outputFn().Print(reminderHeaders, rows, reminders)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of reminders")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate due-ness at this RFC3339 time instead of now")

	return cmd
}

// NewShowCmd создаёт команду show.
func NewShowCmd(storeFn func(ctx context.Context) (ReminderReader, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show reminder details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid reminder id %q", args[0])
			}

			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			reminder, err := store.GetByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("reminder %d: %w", id, err)
			}

			return outputFn().Print(reminderHeaders, [][]string{reminderRow(reminder)}, reminder)
		},
	}
}

func reminderRow(r *domain.Reminder) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Recipient,
		r.ScheduledTime.UTC().Format(time.RFC3339),
		strconv.FormatBool(r.Sent),
		truncate(r.Message, 40),
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
