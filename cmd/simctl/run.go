package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gilkh/livret-sub003/internal/simulation"
)

const simBase = "/api/v1/simulations"

var (
	startReq   simulation.StartRequest
	startWatch bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a simulation run",
	Long:  "start launches a run on the sandbox server. Parameters outside the allowed ranges are clamped by the server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if startReq.Teachers == 0 && startReq.SubAdmins == 0 {
			return fmt.Errorf("at least one of --teachers or --subadmins is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.do(cmd.Context(), "POST", simBase+"/start", startReq)
		if err != nil {
			return err
		}
		runID, _ := out["runId"].(string)
		fmt.Fprintln(cmd.OutOrStdout(), runID)
		if !startWatch || runID == "" {
			return nil
		}
		return watchRun(cmd, c, runID)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <runId>",
	Short: "Stop a running simulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.do(cmd.Context(), "POST", simBase+"/stop", map[string]string{"runId": args[0]})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out["run"])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running simulation and sandbox diagnostics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, simBase+"/status")
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent simulation runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.do(cmd.Context(), "GET", simBase+"/history", nil)
		if err != nil {
			return err
		}
		runs, _ := out["runs"].([]any)
		w := cmd.OutOrStdout()
		for _, r := range runs {
			m, _ := r.(map[string]any)
			fmt.Fprintf(w, "%v\t%v\t%v\tteachers=%v subAdmins=%v\t%v\n",
				m["id"], m["status"], m["scenario"], m["teachers"], m["subAdmins"], m["startedAt"])
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <runId>",
	Short: "Show a simulation run with its live state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, simBase+"/"+args[0])
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <runId>",
	Short: "Stream live state of a run until it finishes",
	Long:  "watch connects to the sandbox server's WebSocket stream. The sandbox URL is discovered from the main server when needed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return watchRun(cmd, c, args[0])
	},
}

func init() {
	f := startCmd.Flags()
	f.IntVar(&startReq.Teachers, "teachers", 0, "number of virtual teachers")
	f.IntVar(&startReq.SubAdmins, "subadmins", 0, "number of virtual sub-admins")
	f.IntVar(&startReq.DurationSec, "duration", 60, "run duration in seconds")
	f.IntVar(&startReq.ThinkTimeMs, "think-time", 0, "fixed think time between actions in ms (0 = scenario default)")
	f.Float64Var(&startReq.RampUpUsersPerSec, "ramp-up", 0, "actors launched per second (0 = all at once)")
	f.StringVar(&startReq.Scenario, "scenario", "mixed", "scenario name")
	f.BoolVar(&startReq.CleanupSeededData, "cleanup", false, "delete seeded classes, students and template at the end")
	f.BoolVar(&startWatch, "watch", false, "stream live state after starting")
}

func getAndPrint(cmd *cobra.Command, path string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	out, err := c.do(cmd.Context(), "GET", path, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

// watchRun 主模式返回 use_sandbox_url 时改连沙箱地址
func watchRun(cmd *cobra.Command, c *apiClient, runID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()
	onFrame := func(frame map[string]any) {
		printFrame(w, frame)
	}

	err := c.watch(ctx, runID, onFrame)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Code == "use_sandbox_url" {
		sandboxURL, _ := apiErr.Body["sandboxUrl"].(string)
		if sandboxURL == "" {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "streaming from %s\n", sandboxURL)
		sc := *c
		sc.base = sandboxURL
		return sc.watch(ctx, runID, onFrame)
	}
	return err
}

// printFrame live 帧输出一行，final 帧输出完整 summary
func printFrame(w io.Writer, frame map[string]any) {
	switch frame["type"] {
	case "final":
		fmt.Fprintf(w, "run %v finished: %v\n", frame["runId"], frame["status"])
		if s, ok := frame["summary"]; ok {
			printJSON(w, s)
		}
	case "error":
		fmt.Fprintf(w, "error: %v\n", frame["error"])
	default:
		live, _ := frame["live"].(map[string]any)
		fmt.Fprintf(w, "%v status=%v teachers=%v subAdmins=%v inFlight=%v actions=%v\n",
			frame["timestamp"], frame["status"],
			live["activeTeacherUsers"], live["activeSubAdminUsers"],
			live["inFlight"], live["recordedTotal"])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
