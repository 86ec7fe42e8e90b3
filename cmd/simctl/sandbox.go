package main

import (
	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage the sandbox api-server process",
	Long:  "sandbox talks to the main server, which owns the sandbox child process.",
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sandbox process status and guard diagnostics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, simBase+"/sandbox/status")
	},
}

var sandboxStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Build (if configured) and start the sandbox process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndPrint(cmd, simBase+"/sandbox/start")
	},
}

var sandboxStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sandbox process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndPrint(cmd, simBase+"/sandbox/stop")
	},
}

func init() {
	sandboxCmd.AddCommand(sandboxStatusCmd, sandboxStartCmd, sandboxStopCmd)
}

func postAndPrint(cmd *cobra.Command, path string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	out, err := c.do(cmd.Context(), "POST", path, struct{}{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
