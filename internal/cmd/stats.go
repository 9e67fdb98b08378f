package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainhound/chainhound/internal/output"
	"github.com/chainhound/chainhound/internal/server/handlers"
)

var (
	statsOutput string
	statsAddr   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline counters from a running instance",
	Long:  "Fetch throttle and executor counters from a running instance's /stats endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statsAddr
		if addr == "" {
			addr = fmt.Sprintf("http://%s:%d", viper.GetString("server.host"), viper.GetInt("server.port"))
		}

		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, addr+"/stats", nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch stats from %s: %w", addr, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("stats endpoint returned status %d", resp.StatusCode)
		}

		var snapshot handlers.StatsResponse
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return fmt.Errorf("decode stats response: %w", err)
		}

		switch statsOutput {
		case "json":
			payload, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
		case "table":
			formatter := &output.TableFormatter{}
			fmt.Println(formatter.FormatStats(snapshot.Throttle, snapshot.Executor))
		default:
			return fmt.Errorf("unsupported output format: %s", statsOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsOutput, "output-format", "table", "Output format: table|json")
	statsCmd.Flags().StringVar(&statsAddr, "addr", "", "Base URL of the running instance (default from server config)")
}
