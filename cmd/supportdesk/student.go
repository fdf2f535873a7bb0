package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"supportdesk/internal/store"
	"supportdesk/pkg/types"
)

func newStudentCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Student side of the support chat",
	}
	cmd.AddCommand(
		studentThreadsCommand(c),
		studentShowCommand(c),
		studentCreateCommand(c),
		studentSendCommand(c),
		studentRateCommand(c),
		studentUploadCommand(c),
		studentWatchCommand(c),
	)
	return cmd
}

// session logs a fresh store in with the configured token.
func (c *cli) session(cmd *cobra.Command) (*store.Store, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	s := store.New(api, store.WithLogger(c.logger))
	if err := s.Login(cmd.Context(), c.actor(types.RoleStudent)); err != nil {
		return nil, err
	}
	return s, nil
}

func parseThreadID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid thread id %q", arg)
	}
	return id, nil
}

func studentThreadsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List your support threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			snap := s.Snapshot()
			printThreads(cmd.OutOrStdout(), snap.Threads, int64(len(snap.Threads)))
			if snap.HasUnread {
				fmt.Fprintln(cmd.OutOrStdout(), "You have unread replies.")
			}
			return nil
		},
	}
}

func studentShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show a thread with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			thread, err := s.LoadThread(cmd.Context(), id)
			if err != nil {
				return err
			}
			printThread(cmd.OutOrStdout(), thread)
			return nil
		},
	}
}

func studentCreateCommand(c *cli) *cobra.Command {
	var (
		req         types.CreateThreadRequest
		courseID    int64
		courseTitle string
		origin      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new support thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			entry := types.EntryContext{CourseTitle: courseTitle, Origin: origin}
			if courseID > 0 {
				entry.CourseID = &courseID
			}
			s.SetEntryContext(entry)

			thread, err := s.CreateThread(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created thread #%d (%s)\n", thread.ID, thread.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Topic, "topic", "", "topic tag, e.g. payment_issue")
	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "first message")
	cmd.Flags().StringSliceVar(&req.Attachments, "attach", nil, "attachment URL (repeatable)")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "optional subject")
	cmd.Flags().Int64Var(&courseID, "course-id", 0, "course the question is about")
	cmd.Flags().StringVar(&courseTitle, "course-title", "", "course title shown to managers")
	cmd.Flags().StringVar(&origin, "origin", "", "page the chat was opened from")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func studentSendCommand(c *cli) *cobra.Command {
	var attachments []string
	cmd := &cobra.Command{
		Use:   "send <thread-id> <message>",
		Short: "Post a message on one of your threads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			if _, err := s.LoadThread(cmd.Context(), id); err != nil {
				return err
			}
			msg, err := s.SendMessage(cmd.Context(), types.SendMessageRequest{Content: args[1], Attachments: attachments})
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), *msg)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "attachment URL (repeatable)")
	return cmd
}

func studentRateCommand(c *cli) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "rate <thread-id> <1-5>",
		Short: "Rate how a thread was handled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			score, err := strconv.Atoi(args[1])
			if err != nil {
				return types.ErrInvalidRating
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			if _, err := s.LoadThread(cmd.Context(), id); err != nil {
				return err
			}
			rating, err := s.SubmitRating(cmd.Context(), types.RatingRequest{Rating: score, Comment: comment})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rated thread #%d: %d/5\n", id, rating.Rating)
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	return cmd
}

func studentUploadCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image-file>",
		Short: "Upload an image and print the attachment URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			url, err := api.UploadImage(cmd.Context(), f.Name(), f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

// studentWatchCommand opens the chat on a thread and prints new messages as polling finds them.
func studentWatchCommand(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <thread-id>",
		Short: "Follow a thread until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseThreadID(args[0])
			if err != nil {
				return err
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			thread, err := s.LoadThread(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printThread(out, thread)

			seen := len(thread.Messages)
			changed := make(chan struct{}, 1)
			unsubscribe := s.Subscribe(func(store.Snapshot) {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			if interval <= 0 {
				interval = c.cfg.Polling.Interval
			}
			if err := s.OpenChat(cmd.Context(), nil); err != nil {
				return err
			}
			poll := s.StartPolling(interval)
			defer poll.Close()

			ctx, stop := withSignals(cmd.Context())
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					msgs := s.Snapshot().Messages
					for ; seen < len(msgs); seen++ {
						printMessage(out, msgs[seen])
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to config)")
	return cmd
}
