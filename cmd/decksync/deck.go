package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/spf13/cobra"
)

var (
	deckRootOverride  string
	deckJSONOutput    bool
	createDescription string
	createIfNotExists bool
	deleteForce       bool
)

var deckCmd = &cobra.Command{
	Use:   "deck",
	Short: "Manage server decks",
	Long:  "Create, list, inspect, and delete the decks a sync server holds, without running the server.",
}

var deckCreateCmd = &cobra.Command{
	Use:   "create <user> <deck>",
	Short: "Create an empty deck",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeckCreate,
}

var deckListCmd = &cobra.Command{
	Use:   "list [user]",
	Short: "List decks, of one user or of everyone",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeckList,
}

var deckInfoCmd = &cobra.Command{
	Use:   "info <user> <deck>",
	Short: "Show detailed information about a deck",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeckInfo,
}

var deckDeleteCmd = &cobra.Command{
	Use:   "delete <user> <deck>",
	Short: "Delete a deck and all its data",
	Long:  "Permanently delete a deck and all its data. Requires --force or interactive confirmation.",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeckDelete,
}

func init() {
	deckCmd.PersistentFlags().StringVar(&deckRootOverride, "root", "",
		"Deck root path (overrides config and DECKSYNC_DECKS_ROOT)")
	deckCmd.PersistentFlags().BoolVar(&deckJSONOutput, "json", false,
		"Output in JSON format")

	deckCreateCmd.Flags().StringVar(&createDescription, "description", "",
		"Human-readable description")
	deckCreateCmd.Flags().BoolVar(&createIfNotExists, "if-not-exists", false,
		"Exit 0 if the deck already exists")
	deckDeleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Skip confirmation prompt")

	deckCmd.AddCommand(deckCreateCmd)
	deckCmd.AddCommand(deckListCmd)
	deckCmd.AddCommand(deckInfoCmd)
	deckCmd.AddCommand(deckDeleteCmd)
}

// resolveDeckManager creates a DeckManager from config with optional --root override.
func resolveDeckManager(cmd *cobra.Command) (*multistore.DeckManager, error) {
	rootPath := deckRootOverride
	if rootPath == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		rootPath = cfg.Decks.RootPath
	}
	return multistore.NewDeckManager(rootPath)
}

func runDeckCreate(cmd *cobra.Command, args []string) error {
	user, name := args[0], args[1]
	ctx := context.Background()

	mgr, err := resolveDeckManager(cmd)
	if err != nil {
		return err
	}
	defer mgr.Close()

	d, err := mgr.CreateDeck(ctx, user, name, createDescription)
	if errors.Is(err, multistore.ErrDeckExists) && createIfNotExists {
		if deckJSONOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"user":            user,
				"name":            name,
				"already_existed": true,
			})
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Deck %s/%s already exists\n", user, name)
		return nil
	}
	if err != nil {
		return err
	}

	if deckJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"user":        d.User,
			"name":        d.Name,
			"created":     d.Meta.Created,
			"description": d.Meta.Description,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created deck %s\n", d.Key())
	return nil
}

func runDeckList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := resolveDeckManager(cmd)
	if err != nil {
		return err
	}
	defer mgr.Close()

	var decks []multistore.DeckInfo
	if len(args) == 1 {
		decks, err = mgr.ListDecks(ctx, args[0])
	} else {
		decks, err = mgr.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("list decks: %w", err)
	}

	if deckJSONOutput {
		items := make([]map[string]any, len(decks))
		for i, d := range decks {
			items[i] = map[string]any{
				"user":        d.User,
				"name":        d.Name,
				"size_bytes":  d.SizeBytes,
				"created":     d.Created,
				"modified":    d.Modified,
				"last_sync":   d.LastSync,
				"description": d.Description,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"decks": items,
			"total": len(items),
		})
	}

	if len(decks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No decks found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "USER\tDECK\tSIZE\tLAST SYNC\tDESCRIPTION")
	for _, d := range decks {
		desc := d.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.User,
			d.Name,
			formatSize(d.SizeBytes),
			formatEpoch(d.LastSync),
			desc,
		)
	}
	return w.Flush()
}

func runDeckInfo(cmd *cobra.Command, args []string) error {
	user, name := args[0], args[1]
	ctx := context.Background()

	mgr, err := resolveDeckManager(cmd)
	if err != nil {
		return err
	}
	defer mgr.Close()

	d, err := mgr.GetDeck(ctx, user, name)
	if err != nil {
		return err
	}
	info, err := d.Store.Info(ctx)
	if err != nil {
		return err
	}

	var sizeBytes int64
	if st, statErr := os.Stat(filepath.Join(d.BasePath, multistore.DatabaseFile)); statErr == nil {
		sizeBytes = st.Size()
	}

	out := cmd.OutOrStdout()
	if deckJSONOutput {
		return printJSON(out, map[string]any{
			"user":          d.User,
			"name":          d.Name,
			"description":   d.Meta.Description,
			"created":       d.Meta.Created,
			"last_accessed": d.Meta.LastAccessed,
			"size_bytes":    sizeBytes,
			"models":        info.Models,
			"facts":         info.Facts,
			"cards":         info.Cards,
			"modified":      info.Modified,
			"last_sync":     info.LastSync,
			"path":          d.BasePath,
		})
	}

	fmt.Fprintf(out, "Deck:          %s\n", d.Key())
	if d.Meta.Description != "" {
		fmt.Fprintf(out, "Description:   %s\n", d.Meta.Description)
	}
	fmt.Fprintf(out, "Created:       %s\n", d.Meta.Created.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Last Accessed: %s\n", d.Meta.LastAccessed.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Models:        %d\n", info.Models)
	fmt.Fprintf(out, "Facts:         %d\n", info.Facts)
	fmt.Fprintf(out, "Cards:         %d\n", info.Cards)
	fmt.Fprintf(out, "Modified:      %s\n", formatEpoch(info.Modified))
	fmt.Fprintf(out, "Last Sync:     %s\n", formatEpoch(info.LastSync))
	fmt.Fprintf(out, "Size:          %s\n", formatSize(sizeBytes))
	fmt.Fprintf(out, "Path:          %s\n", d.BasePath)
	return nil
}

func runDeckDelete(cmd *cobra.Command, args []string) error {
	user, name := args[0], args[1]
	key := user + "/" + name
	ctx := context.Background()

	mgr, err := resolveDeckManager(cmd)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if !deleteForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will permanently delete deck %q and all its data.\n", key)
		fmt.Fprint(errOut, "Type the deck name to confirm: ")

		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(input) != name {
			fmt.Fprintln(errOut, "Aborted. Deck name did not match.")
			return nil
		}
	}

	if err := mgr.DeleteDeck(ctx, user, name); err != nil {
		return err
	}

	if deckJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"user":    user,
			"name":    name,
			"deleted": true,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted deck %s\n", key)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatEpoch renders float epoch seconds, or "never" for zero.
func formatEpoch(t float64) string {
	if t == 0 {
		return "never"
	}
	sec := int64(t)
	return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC().Format("2006-01-02 15:04:05 MST")
}
