// Command actorctl is a small demo CLI for the actor runtime, grounded on
// the teacher's root main.go flag wiring and the pack's cobra usage in
// cuemby-warren/cmd/warren. It boots an env.Environment with a ping-pong
// demo coop and prints colorized status lines, per spec.md §1's "public
// binding/DSL sugar is external to the core" — this binary is that
// external consumer, deliberately thin.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	wsTraceAddr   string
	grpcTraceAddr string
	rounds        int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "actorctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "actorctl",
	Short: "Demo CLI for the actor runtime",
	Long: `actorctl boots a minimal environment, registers a ping-pong
cooperation exercising mailboxes, message limits, delivery filters and the
hierarchical state machine, and prints colorized status as messages flow.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&wsTraceAddr, "trace-ws", "", "serve a websocket trace feed on this address (e.g. :9091)")
	rootCmd.PersistentFlags().StringVar(&grpcTraceAddr, "trace-grpc", "", "serve a gRPC trace export on this address (e.g. :9092)")
	rootCmd.AddCommand(pingPongCmd)
}

var pingPongCmd = &cobra.Command{
	Use:   "ping-pong",
	Short: "Run the ping-pong demo coop and print each hop",
	RunE:  runPingPong,
}

func init() {
	pingPongCmd.Flags().IntVar(&rounds, "rounds", 5, "number of ping-pong round trips to run before shutting down")
}
