package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"supportdesk/internal/inbox"
	"supportdesk/internal/realtime"
	"supportdesk/pkg/types"
)

func newInboxCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Manager console for support threads",
	}
	cmd.AddCommand(
		inboxListCommand(c),
		inboxShowCommand(c),
		inboxClaimCommand(c),
		inboxStatusCommand(c),
		inboxTransferCommand(c),
		inboxReplyCommand(c),
		inboxWatchCommand(c),
	)
	return cmd
}

func (c *cli) inbox() (*inbox.Inbox, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	return inbox.New(api, c.actor(types.RoleManager), inbox.WithLogger(c.logger)), nil
}

// filterFlags binds the list filters shared by list and watch.
func filterFlags(cmd *cobra.Command, f *inbox.Filters) {
	cmd.Flags().StringVar(&f.Status, "status", types.StatusAll, "NEW, IN_PROGRESS, WAITING_STUDENT, CLOSED or ALL")
	cmd.Flags().StringVar(&f.StudentKeyword, "keyword", "", "match student name, topic or course")
	cmd.Flags().BoolVar(&f.MineOnly, "mine", false, "only threads assigned to me")
}

func printInbox(cmd *cobra.Command, snap inbox.Snapshot) {
	out := cmd.OutOrStdout()
	printThreads(out, snap.Threads, snap.Metrics.Total)
	fmt.Fprintf(out, "in progress: %d  waiting: %d  mine: %d\n",
		snap.Metrics.InProgress, snap.Metrics.Waiting, snap.Metrics.Mine)
	if snap.HasUnread {
		fmt.Fprintln(out, "Some threads have unread student messages.")
	}
}

func inboxListCommand(c *cli) *cobra.Command {
	var filters inbox.Filters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads with filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ib, err := c.inbox()
			if err != nil {
				return err
			}
			if err := ib.SetFilters(filters); err != nil {
				return err
			}
			if err := ib.LoadThreads(cmd.Context()); err != nil {
				return err
			}
			printInbox(cmd, ib.Snapshot())
			return nil
		},
	}
	filterFlags(cmd, &filters)
	return cmd
}

// selected loads the inbox and selects the thread named by arg.
func (c *cli) selected(cmd *cobra.Command, arg string) (*inbox.Inbox, error) {
	id, err := parseThreadID(arg)
	if err != nil {
		return nil, err
	}
	ib, err := c.inbox()
	if err != nil {
		return nil, err
	}
	if _, err := ib.OpenThread(cmd.Context(), id); err != nil {
		return nil, err
	}
	return ib, nil
}

func inboxShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show a thread with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ib, err := c.selected(cmd, args[0])
			if err != nil {
				return err
			}
			printThread(cmd.OutOrStdout(), ib.Snapshot().Selected)
			return nil
		},
	}
}

func inboxClaimCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <thread-id>",
		Short: "Assign a thread to yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ib, err := c.selected(cmd, args[0])
			if err != nil {
				return err
			}
			if err := ib.Claim(cmd.Context()); err != nil {
				return err
			}
			t := ib.Snapshot().Selected
			fmt.Fprintf(cmd.OutOrStdout(), "Thread #%d claimed by %s (%s)\n", t.ID, name(t.Manager), t.Status)
			return nil
		},
	}
}

func inboxStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <thread-id> <status>",
		Short: "Change a thread's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := types.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ib, err := c.selected(cmd, args[0])
			if err != nil {
				return err
			}
			if err := ib.ChangeStatus(cmd.Context(), status); err != nil {
				return err
			}
			t := ib.Snapshot().Selected
			fmt.Fprintf(cmd.OutOrStdout(), "Thread #%d is now %s\n", t.ID, t.Status)
			return nil
		},
	}
}

func inboxTransferCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <thread-id> <manager-id>",
		Short: "Hand a thread to another manager",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := inbox.ParseManagerID(args[1]); err != nil {
				return err
			}
			ib, err := c.selected(cmd, args[0])
			if err != nil {
				return err
			}
			if err := ib.Transfer(cmd.Context(), args[1]); err != nil {
				return err
			}
			t := ib.Snapshot().Selected
			fmt.Fprintf(cmd.OutOrStdout(), "Thread #%d transferred to %s\n", t.ID, name(t.Manager))
			return nil
		},
	}
}

func inboxReplyCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <thread-id> <message>",
		Short: "Reply on a thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ib, err := c.selected(cmd, args[0])
			if err != nil {
				return err
			}
			msg, err := ib.SendMessage(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), *msg)
			return nil
		},
	}
}

// inboxWatchCommand keeps the alert channel open and reprints the list after each alert.
func inboxWatchCommand(c *cli) *cobra.Command {
	var filters inbox.Filters
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new-thread alerts and refresh the list until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ib, err := c.inbox()
			if err != nil {
				return err
			}
			if err := ib.SetFilters(filters); err != nil {
				return err
			}
			if err := ib.LoadThreads(cmd.Context()); err != nil {
				return err
			}
			printInbox(cmd, ib.Snapshot())

			token, err := c.cfg.API.ResolveToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			notifier, err := realtime.New(c.cfg.API.ResolveBaseURL(), c.cfg.Realtime,
				realtime.WithToken(token),
				realtime.WithLogger(c.logger),
				realtime.WithAlertHandler(func(a realtime.Alert) {
					fmt.Fprintf(out, "\nNew thread #%d from %s: %s\n", a.ThreadID, a.Title, a.Subtitle)
				}),
				realtime.WithRefresh(func(ctx context.Context) error {
					if err := ib.LoadThreads(ctx); err != nil {
						return err
					}
					printInbox(cmd, ib.Snapshot())
					return nil
				}),
			)
			if err != nil {
				return err
			}

			ctx, stop := withSignals(cmd.Context())
			defer stop()
			if err := notifier.Connect(ctx); err != nil {
				return err
			}
			defer notifier.Close()

			select {
			case <-ctx.Done():
				return nil
			case <-notifier.Done():
				return notifier.Err()
			}
		},
	}
	filterFlags(cmd, &filters)
	return cmd
}
