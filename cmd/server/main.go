// Command server runs the agent-stream HTTP service: Redis Streams message
// queue channels with SSE delivery, chatbot task orchestration and file
// translations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verbatik/agent-stream/internal/server"
)

// For testing
var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "agent-stream",
	Short: "Streaming layer between chat clients and the LLM agent runtime",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(server.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
