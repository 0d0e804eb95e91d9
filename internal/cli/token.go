package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a portal admission token",
	Run: func(cmd *cobra.Command, args []string) {
		conn, err := dialClient()
		if err != nil {
			fmt.Printf("Failed to connect: %v\nIs the core running?\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		requestID := uuid.NewString()
		frame, err := roundTrip(conn,
			map[string]any{"type": "generate_bridge_id", "requestId": requestID},
			"bridge_id_generated", 5*time.Second)
		if err != nil {
			fmt.Printf("Failed to mint token: %v\n", err)
			os.Exit(1)
		}

		bridgeID, _ := frame["bridgeId"].(string)
		expiresAt, _ := frame["expiresAt"].(float64)
		fmt.Printf("token:     %s\n", bridgeID)
		fmt.Printf("expiresAt: %s\n", time.UnixMilli(int64(expiresAt)).Format(time.RFC3339))
	},
}

func init() {
	RootCmd.AddCommand(tokenCmd)
}
