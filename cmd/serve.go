package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"contenthub/config"
	"contenthub/content"
	"contenthub/directory"
	"contenthub/hub"
	"contenthub/storage"
	"contenthub/wire"
)

var log = logging.Logger("daemon")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content hub daemon",
	Long: "Serves the content hub: listens for application connections,\n" +
		"resolves peers, supervises transfers, and records history.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		cobra.CheckErr(err)
		cobra.CheckErr(runDaemon(cmd.Context(), cfg))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if err := config.EnsureDataDirectories(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder hub.Recorder
	if cfg.History.Enabled {
		store, dbPath, err := storage.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()
		recorder = storeRecorder{store: store}
		log.Infof("recording history at %s", dbPath)
	}

	dir, err := buildDirectory(cfg)
	if err != nil {
		return err
	}
	if err := dir.Refresh(ctx); err != nil {
		log.Warnf("directory refresh: %v", err)
	}

	h := hub.New(hub.Options{
		Directory: dir,
		Recorder:  recorder,
	})
	defer h.Close()

	if cfg.Watchdog.Timeout > 0 {
		watchdog, err := hub.NewWatchdog(hub.WatchdogOptions{
			Registry: h.Registry(),
			Timeout:  cfg.Watchdog.Timeout,
			Interval: cfg.Watchdog.Interval,
		})
		if err != nil {
			return err
		}
		watchdog.Start(ctx)
		defer watchdog.Stop()
	}

	server, err := wire.NewServer(wire.ServerOptions{
		Hub:        h,
		Network:    cfg.Listen.Network,
		Address:    cfg.Listen.Address,
		StagingDir: cfg.StagingDir,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.LAN.Enabled {
		announcer, err := directory.Announce(directory.ZeroconfConfig{
			Service: cfg.LAN.Service,
			Domain:  cfg.LAN.Domain,
			Port:    cfg.LAN.Port,
			Local: directory.Entry{
				Peer:        content.NewNamedPeer(cfg.LAN.ID, cfg.LAN.Name),
				Source:      parseTypeList(cfg.LAN.Source),
				Destination: parseTypeList(cfg.LAN.Destination),
				Share:       parseTypeList(cfg.LAN.Share),
			},
		})
		if err != nil {
			return err
		}
		defer announcer.Stop()
		log.Infof("announcing %s on the LAN", cfg.LAN.ID)
	}

	log.Infof("content hub listening on %s %s", cfg.Listen.Network, cfg.Listen.Address)
	<-ctx.Done()
	log.Infof("shutting down")
	return nil
}

// buildDirectory assembles the peer directory from the manifest dir and,
// when enabled, LAN discovery. Manifests win conflicts.
func buildDirectory(cfg *config.Config) (*directory.Directory, error) {
	sources := []directory.Source{directory.NewManifestSource(cfg.ManifestDir)}
	if cfg.LAN.Enabled {
		lan, err := directory.NewZeroconfSource(directory.ZeroconfConfig{
			Service: cfg.LAN.Service,
			Domain:  cfg.LAN.Domain,
			Local: directory.Entry{
				Peer: content.NewNamedPeer(cfg.LAN.ID, cfg.LAN.Name),
			},
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, lan)
	}

	return directory.New(directory.Options{
		Sources:  sources,
		Defaults: parseDefaults(cfg.Defaults),
	}), nil
}

func parseDefaults(raw map[string]string) map[content.Type]string {
	defaults := make(map[content.Type]string, len(raw))
	for name, peer := range raw {
		t, err := content.ParseType(name)
		if err != nil {
			log.Warnf("ignoring default peer for %q: %v", name, err)
			continue
		}
		defaults[t] = peer
	}
	return defaults
}

func parseTypeList(names []string) []content.Type {
	types := make([]content.Type, 0, len(names))
	for _, name := range names {
		t, err := content.ParseType(name)
		if err != nil {
			log.Warnf("ignoring announced type %q: %v", name, err)
			continue
		}
		types = append(types, t)
	}
	return types
}

// storeRecorder feeds concluded transfers into the history store.
type storeRecorder struct {
	store *storage.Store
}

func (r storeRecorder) RecordConcluded(rec hub.Record) error {
	return r.store.RecordConcluded(storage.TransferRecord{
		ID:          rec.ID,
		Direction:   rec.Direction.String(),
		ContentType: rec.ContentType.String(),
		Source:      rec.Source,
		Destination: rec.Destination,
		FinalState:  rec.FinalState.String(),
		ItemCount:   rec.ItemCount,
		CreatedAt:   rec.CreatedAt,
		ConcludedAt: rec.ConcludedAt,
	})
}
