// Command cachefsd mounts a caching passthrough filesystem in front of a
// slow source directory, with subcommands for mounting, running a
// one-shot cleanup sweep, and inspecting saved statistics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "cachefsd",
	Short: "cachefsd mounts a tiered cache over a slow source directory",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(mountCommand, cleanCommand, statsCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
