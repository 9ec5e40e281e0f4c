package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/decksync/internal/client"
	"github.com/hyperengineering/decksync/internal/config"
	"github.com/hyperengineering/decksync/internal/store"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"github.com/spf13/cobra"
)

var (
	syncLocalPath string
	syncURL       string
	syncUser      string
	syncDeck      string
	syncAtomicity string
	syncCreate    bool
	syncJSON      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a local deck with a server",
	Long: `Reconcile a local deck file with the same deck on a sync server.

The password is read from DECKSYNC_SYNC_PASSWORD. Flags override the
sync section of the config file.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncLocalPath, "local", "", "Path of the local deck database")
	syncCmd.Flags().StringVar(&syncURL, "url", "", "Sync server base URL")
	syncCmd.Flags().StringVar(&syncUser, "user", "", "Sync server username")
	syncCmd.Flags().StringVar(&syncDeck, "deck", "", "Deck name on the server")
	syncCmd.Flags().StringVar(&syncAtomicity, "atomicity", "", "Apply mode: best-effort or all-or-nothing")
	syncCmd.Flags().BoolVar(&syncCreate, "create", false, "Create the deck on the server if missing")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Output in JSON format")
}

// applySyncFlags overlays explicitly set flags onto the sync settings.
func applySyncFlags(cfg *config.SyncConfig) {
	for _, o := range []struct {
		value string
		dst   *string
	}{
		{syncLocalPath, &cfg.LocalPath},
		{syncURL, &cfg.URL},
		{syncUser, &cfg.Username},
		{syncDeck, &cfg.Deck},
		{syncAtomicity, &cfg.Atomicity},
	} {
		if o.value != "" {
			*o.dst = o.value
		}
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applySyncFlags(&cfg.Sync)
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	atomicity, err := decksync.ParseAtomicity(cfg.Sync.Atomicity)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	local, err := store.NewSQLiteStore(cfg.Sync.LocalPath)
	if err != nil {
		return fmt.Errorf("open local deck: %w", err)
	}
	defer local.Close()

	peer := client.New(cfg.Sync.URL, cfg.Sync.Username, cfg.Sync.Password, cfg.Sync.Deck,
		client.WithTimeout(time.Duration(cfg.Sync.Timeout)),
		client.WithClientVersion("decksync/"+Version),
	)
	if err := peer.Connect(ctx); err != nil {
		return err
	}

	exists, err := peer.HasDeck(ctx, cfg.Sync.Deck)
	if err != nil {
		return err
	}
	if !exists {
		if !syncCreate {
			return fmt.Errorf("deck %q: %w (use --create)", cfg.Sync.Deck, client.ErrDeckNotOnServer)
		}
		if err := peer.CreateDeck(ctx, cfg.Sync.Deck); err != nil {
			return err
		}
		slog.Info("deck created on server", "component", "cli", "deck", cfg.Sync.Deck)
	}

	engine := decksync.NewEngine(local,
		decksync.WithAtomicity(atomicity),
		decksync.WithLogger(slog.Default()),
	)
	res, err := decksync.NewDriver(engine, peer, nil).Sync(ctx)
	if err != nil {
		return err
	}
	return printSyncResult(cmd, res)
}

func printSyncResult(cmd *cobra.Command, res *decksync.Result) error {
	out := cmd.OutOrStdout()
	if syncJSON {
		return printJSON(out, map[string]any{
			"sync_id":          res.SyncID,
			"full_sync":        res.FullSync,
			"baseline":         res.Baseline,
			"pushed":           res.Pushed,
			"pulled":           res.Pulled,
			"deleted_local":    res.DeletedLocal,
			"deleted_remote":   res.DeletedRemote,
			"sent_deck":        res.SentDeck,
			"received_deck":    res.ReceivedDeck,
			"current_model_id": res.CurrentModelID,
			"duration_ms":      res.Duration.Milliseconds(),
		})
	}

	mode := "incremental"
	if res.FullSync {
		mode = "full"
	}
	fmt.Fprintf(out, "Sync %s complete (%s) in %s\n", res.SyncID, mode, res.Duration.Round(time.Millisecond))
	w := newTabWriter(out)
	fmt.Fprintln(w, "KIND\tPUSHED\tPULLED\tDELETED HERE\tDELETED THERE")
	for _, kind := range types.Kinds {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", kind,
			res.Pushed[kind], res.Pulled[kind], res.DeletedLocal[kind], res.DeletedRemote[kind])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	switch {
	case res.SentDeck:
		fmt.Fprintln(out, "Deck settings sent to server")
	case res.ReceivedDeck:
		fmt.Fprintln(out, "Deck settings received from server")
	}
	return nil
}
