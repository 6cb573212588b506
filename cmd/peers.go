package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"contenthub/content"
	"contenthub/directory"
)

var (
	peersType   string
	peersRole   string
	peersSearch string
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List known content peers",
	Long: "Lists the peers the directory knows for a content type, from the\n" +
		"manifest directory and, when enabled, LAN discovery.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		cobra.CheckErr(err)

		contentType, err := content.ParseType(peersType)
		cobra.CheckErr(err)

		dir, err := buildDirectory(cfg)
		cobra.CheckErr(err)
		cobra.CheckErr(dir.Refresh(cmd.Context()))

		var peers []content.Peer
		switch {
		case peersSearch != "":
			peers = dir.SearchPeers(contentType, peersSearch)
		case peersRole == "destination":
			peers = dir.KnownDestinationsFor(contentType)
		case peersRole == "share":
			peers = dir.KnownSharesFor(contentType)
		default:
			peers = dir.KnownSourcesFor(contentType)
		}

		if len(peers) == 0 {
			fmt.Println("no peers known")
			return
		}
		for _, peer := range peers {
			printPeer(dir, peer)
		}
	},
}

func init() {
	peersCmd.Flags().StringVar(&peersType, "type", "all", "content type to query")
	peersCmd.Flags().StringVar(&peersRole, "role", "source", "peer role: source, destination, or share")
	peersCmd.Flags().StringVar(&peersSearch, "search", "", "fuzzy search peers by name or id")
	rootCmd.AddCommand(peersCmd)
}

func printPeer(dir *directory.Directory, peer content.Peer) {
	var roles string
	for _, entry := range dir.Entries() {
		if !entry.Peer.Equal(peer) {
			continue
		}
		if len(entry.Source) > 0 {
			roles += " source"
		}
		if len(entry.Destination) > 0 {
			roles += " destination"
		}
		if len(entry.Share) > 0 {
			roles += " share"
		}
		break
	}
	fmt.Printf("%-40s %-24s%s\n", peer.ID(), peer.Name(), roles)
}
