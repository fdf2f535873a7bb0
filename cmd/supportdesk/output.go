package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

const previewWidth = 48

func printThreads(w io.Writer, threads []types.Thread, total int64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTOPIC\tSTUDENT\tMANAGER\tUNREAD\tLAST MESSAGE")
	for _, t := range threads {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Topic, name(t.Student), name(t.Manager), unread(t),
			logs.Truncate(t.LastMessagePreview, previewWidth))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d threads\n", len(threads), total)
}

func printThread(w io.Writer, t *types.Thread) {
	fmt.Fprintf(w, "Thread #%d  %s  %s\n", t.ID, t.Status, t.Topic)
	fmt.Fprintf(w, "Student: %s   Manager: %s\n", name(t.Student), name(t.Manager))
	if t.CourseTitle != "" {
		fmt.Fprintf(w, "Course:  %s\n", t.CourseTitle)
	}
	if t.Rating != nil {
		fmt.Fprintf(w, "Rating:  %d/5 %s\n", t.Rating.Rating, t.Rating.Comment)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, m := range t.Messages {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m types.Message) {
	sender := string(m.SenderType)
	if m.Sender != nil && m.Sender.FullName != "" {
		sender = m.Sender.FullName
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), sender, m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(w, "    attachment: %s\n", a)
	}
}

func name(p *types.Participant) string {
	if p == nil || p.FullName == "" {
		return "-"
	}
	return p.FullName
}

func unread(t types.Thread) string {
	switch {
	case t.UnreadForStudent && t.UnreadForManager:
		return "both"
	case t.UnreadForStudent:
		return "student"
	case t.UnreadForManager:
		return "manager"
	default:
		return ""
	}
}
