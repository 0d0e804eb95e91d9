package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var bridgeIDFilter string

var sandboxesCmd = &cobra.Command{
	Use:   "sandboxes",
	Short: "List connected portals and sandboxes",
	Run: func(cmd *cobra.Command, args []string) {
		conn, err := dialClient()
		if err != nil {
			fmt.Printf("Failed to connect: %v\nIs the core running?\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		status, err := roundTrip(conn,
			map[string]any{"type": "get_bridge_status"},
			"bridge_status_update", 5*time.Second)
		if err != nil {
			fmt.Printf("Failed to fetch bridge status: %v\n", err)
			os.Exit(1)
		}

		bridges, _ := status["bridges"].([]any)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PORTAL\tPLATFORM\tSTATUS\tCONNECTED")
		for _, b := range bridges {
			entry, ok := b.(map[string]any)
			if !ok {
				continue
			}
			id, _ := entry["bridgeId"].(string)
			platform, _ := entry["platform"].(string)
			statusStr, _ := entry["status"].(string)
			connectedAt, _ := entry["connectedAt"].(float64)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, platform, statusStr,
				time.UnixMilli(int64(connectedAt)).Format(time.RFC3339))
		}
		w.Flush()

		if bridgeIDFilter == "" {
			return
		}

		sandboxes, err := roundTrip(conn,
			map[string]any{"type": "get_connected_sandboxes", "bridgeId": bridgeIDFilter},
			"connected_sandboxes_update", 5*time.Second)
		if err != nil {
			fmt.Printf("Failed to fetch connected sandboxes: %v\n", err)
			os.Exit(1)
		}

		list, _ := sandboxes["sandboxes"].([]any)
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SANDBOX\tSTATUS\tSCRIPT\tSTARTED")
		for _, s := range list {
			entry, ok := s.(map[string]any)
			if !ok {
				continue
			}
			id, _ := entry["id"].(string)
			statusStr, _ := entry["status"].(string)
			script, _ := entry["scriptPath"].(string)
			startTime, _ := entry["startTime"].(float64)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, statusStr, script,
				time.UnixMilli(int64(startTime)).Format(time.RFC3339))
		}
		w.Flush()
	},
}

func init() {
	sandboxesCmd.Flags().StringVar(&bridgeIDFilter, "portal", "", "Also list sandboxes assigned to this portal id")
	RootCmd.AddCommand(sandboxesCmd)
}
