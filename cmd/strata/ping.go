package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/strata/internal/coordinator"
)

type pingResult struct {
	Connection string `json:"connection"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func newPingCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check every configured connection once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := a.openPool()
			if err != nil {
				return err
			}
			defer a.closePool()

			monitor := coordinator.NewHealthMonitor(pool, a.cfg.Health.Interval, a.logger)
			monitor.SetMaxFailures(1)
			monitor.SetTimeout(timeout)
			monitor.CheckAll(cmd.Context(), pool.Names())

			health := monitor.GetAllConnectionHealth()
			results := make([]pingResult, 0, len(health))
			var down int
			for name, h := range health {
				r := pingResult{Connection: name, Status: h.Status}
				if h.LastError != nil {
					r.Error = h.LastError.Error()
					down++
				}
				results = append(results, r)
			}
			sort.Slice(results, func(i, j int) bool { return results[i].Connection < results[j].Connection })

			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if down > 0 {
				return fmt.Errorf("%d of %d connections unreachable", down, len(results))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "deadline of each ping")
	return cmd
}
