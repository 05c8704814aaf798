// Package main — cmd/hearthcore-cli/main.go
//
// hearthcore-cli is the operator CLI for a running hearthcore daemon. It
// speaks newline-delimited JSON to the daemon's Unix domain socket
// (internal/operator) and exits with the spec-defined codes: 0 ok, 2
// invariant violation, 3 substrate error, 4 policy denied, 5 not found.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthcore/hearthcore/internal/operator"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:   "hearthcore-cli",
		Short: "Operator CLI for the hearthcore daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/hearthcore/operator.sock", "Path to the operator Unix socket")

	root.AddCommand(busCmd(), dlqCmd(), spaceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func busCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bus", Short: "Inspect the event bus"}

	var from uint64
	tail := &cobra.Command{
		Use:   "tail <topic>",
		Short: "Print WAL records for a topic from a given offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.Request{Cmd: "bus_tail", Topic: args[0], From: from})
		},
	}
	tail.Flags().Uint64Var(&from, "from", 0, "WAL offset to tail from")

	groups := &cobra.Command{
		Use:   "groups",
		Short: "List consumer-group lag across all topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.Request{Cmd: "bus_groups"})
		},
	}

	offsets := &cobra.Command{
		Use:   "offsets <topic>",
		Short: "Show committed offsets for a topic's consumer groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.Request{Cmd: "bus_offsets", Topic: args[0]})
		},
	}

	cmd.AddCommand(tail, groups, offsets)
	return cmd
}

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dlq", Short: "Inspect and replay the dead-letter queue"}

	var topic string
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(operator.Request{Cmd: "dlq_list", Topic: topic})
		},
	}
	list.Flags().StringVar(&topic, "topic", "", "Restrict to one topic (default: all topics)")

	var replayTopic, eventID string
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Replay one or all dead-lettered entries for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if replayTopic == "" {
				return fmt.Errorf("--topic is required")
			}
			return send(operator.Request{Cmd: "dlq_replay", Topic: replayTopic, EventID: eventID})
		},
	}
	replay.Flags().StringVar(&replayTopic, "topic", "", "Topic to replay (required)")
	replay.Flags().StringVar(&eventID, "event-id", "", "Replay only this event (default: replay all entries for the topic)")

	cmd.AddCommand(list, replay)
	return cmd
}

func spaceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "space", Short: "Snapshot and verify a space's storage"}

	var snapshotSpace, path string
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a consistent BoltDB snapshot to --path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if snapshotSpace == "" || path == "" {
				return fmt.Errorf("--space-id and --path are required")
			}
			return send(operator.Request{Cmd: "space_snapshot", SpaceID: snapshotSpace, Path: path})
		},
	}
	snapshot.Flags().StringVar(&snapshotSpace, "space-id", "", "Space id to snapshot (required)")
	snapshot.Flags().StringVar(&path, "path", "", "Destination file path (required)")

	var verifySpace string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check that the daemon serves the space (no WAL or record-count check)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verifySpace == "" {
				return fmt.Errorf("--space-id is required")
			}
			return send(operator.Request{Cmd: "space_verify", SpaceID: verifySpace})
		},
	}
	verify.Flags().StringVar(&verifySpace, "space-id", "", "Space id to verify (required)")

	cmd.AddCommand(snapshot, verify)
	return cmd
}

// send dials the operator socket, writes req as one JSON line, reads one
// JSON response line, prints it, and exits with resp.ExitCode.
func send(req operator.Request) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", socketPath, err)
		os.Exit(3)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(3)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(3)
	}

	var resp operator.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(3)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)

	if !resp.OK {
		os.Exit(resp.ExitCode)
	}
	return nil
}
