package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <kind>",
	Short: "Create a session of the given kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var inputCmd = &cobra.Command{
	Use:   "input <session-id> <text>...",
	Short: "Send a line of input to a live session",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runInput,
}

var closeCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a stopped or errored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var (
	createWorkspace string
	listKind        string
	inputNoNewline  bool
)

func init() {
	createCmd.Flags().StringVarP(&createWorkspace, "workspace", "w", "", "workspace path for the session process")
	listCmd.Flags().StringVarP(&listKind, "kind", "k", "", "only list sessions of this kind")
	inputCmd.Flags().BoolVarP(&inputNoNewline, "no-newline", "n", false, "do not append a newline")

	rootCmd.AddCommand(createCmd, listCmd, inputCmd, closeCmd, resumeCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	workspace := createWorkspace
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		workspace = cwd
	}

	resp, err := newAPIClient(serverAddr).CreateSession(cmd.Context(), args[0], workspace)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.SessionID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	sessions, err := newAPIClient(serverAddr).ListSessions(cmd.Context(), listKind)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tKIND\tSTATUS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SessionID, s.Kind, s.Status, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runInput(cmd *cobra.Command, args []string) error {
	data := strings.Join(args[1:], " ")
	if !inputNoNewline {
		data += "\n"
	}
	return newAPIClient(serverAddr).SendInput(cmd.Context(), args[0], data)
}

func runClose(cmd *cobra.Command, args []string) error {
	return newAPIClient(serverAddr).CloseSession(cmd.Context(), args[0])
}

func runResume(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient(serverAddr).ResumeSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !resp.Resumed {
		fmt.Fprintf(out, "not resumed: %s\n", resp.Reason)
		return nil
	}
	fmt.Fprintf(out, "resumed %s, last %d events:\n", resp.SessionID, len(resp.Replayed))
	for _, ev := range resp.Replayed {
		fmt.Fprintf(out, "  #%d %s/%s %s\n", ev.Sequence, ev.Channel, ev.Type, string(ev.Payload))
	}
	return nil
}
