package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"contenthub/storage"
)

var (
	historyLimit int
	historyPeer  string
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List concluded transfers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		cobra.CheckErr(err)

		store, _, err := storage.Open(cfg.DataDir)
		cobra.CheckErr(err)
		defer func() {
			_ = store.Close()
		}()

		if historyPrune > 0 {
			pruned, err := store.PruneOlderThan(time.Now().Add(-historyPrune))
			cobra.CheckErr(err)
			fmt.Printf("pruned %d records\n", pruned)
		}

		var records []storage.TransferRecord
		if historyPeer != "" {
			records, err = store.ListForPeer(historyPeer, historyLimit)
		} else {
			records, err = store.ListRecent(historyLimit)
		}
		cobra.CheckErr(err)

		if len(records) == 0 {
			fmt.Println("no concluded transfers")
			return
		}
		for _, rec := range records {
			fmt.Printf("%s  %-9s %-10s %-9s %3d item(s)  %s -> %s\n",
				rec.ConcludedAt.Format(time.RFC3339),
				rec.FinalState,
				rec.ContentType,
				rec.Direction,
				rec.ItemCount,
				rec.Source,
				rec.Destination,
			)
		}
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", storage.DefaultListLimit, "maximum records to list")
	historyCmd.Flags().StringVar(&historyPeer, "peer", "", "only transfers involving this peer")
	historyCmd.Flags().DurationVar(&historyPrune, "prune-older-than", 0, "delete records older than this age first")
	rootCmd.AddCommand(historyCmd)
}
