package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/nvs"
	"github.com/daemonp/zoneguard/internal/outbox"
	"github.com/daemonp/zoneguard/internal/storage"
	"github.com/daemonp/zoneguard/internal/types"
)

func openInspectDB(ctx context.Context, configFile string) (*config.Config, *storage.DB, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return cfg, nil, err
	}
	if err := db.Init(ctx); err != nil {
		db.Close()
		return cfg, nil, err
	}
	return cfg, db, nil
}

func newOutboxCommand(opts *rootOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List records waiting in the persisted outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, err := openInspectDB(ctx, opts.configFile)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := outbox.OpenSQLStore(ctx, db, cfg.Outbox.StoreCapacity, log.Nop())
			if err != nil {
				return err
			}
			if reset {
				if err := store.Reset(ctx); err != nil {
					return fmt.Errorf("reset outbox: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "outbox cleared")
				return nil
			}
			return printRecords(cmd.OutOrStdout(), store)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Drop every stored record")
	return cmd
}

func printRecords(w io.Writer, store *outbox.SQLStore) error {
	fmt.Fprintf(w, "%d/%d records held\n", store.Len(), store.Cap())
	enc := json.NewEncoder(w)
	for _, r := range store.Records() {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func newNVSCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nvs",
		Short: "Show the persisted arming mode and remote nonce floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, err := openInspectDB(ctx, opts.configFile)
			var kv nvs.KV
			switch {
			case err == nil:
				defer db.Close()
				kv = nvs.NewSQL(db)
			case errors.Is(err, storage.ErrDisabled):
				f, ferr := nvs.OpenFile(cfg.Storage.NVSFile)
				if ferr != nil {
					return ferr
				}
				kv = f
			default:
				return err
			}
			return printNVS(cmd.OutOrStdout(), kv)
		},
	}
}

func printNVS(w io.Writer, kv nvs.KV) error {
	raw, found, err := kv.GetUint(nvs.KeyMode)
	if err != nil {
		return err
	}
	switch mode, ok := types.ModeFromPersisted(raw); {
	case !found:
		fmt.Fprintln(w, "mode: unset")
	case !ok:
		fmt.Fprintf(w, "mode: invalid (%d)\n", raw)
	default:
		fmt.Fprintf(w, "mode: %s\n", mode)
	}

	floor, found, err := kv.GetUint(nvs.KeyNonceFloor)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(w, "nonce floor: unset")
		return nil
	}
	fmt.Fprintf(w, "nonce floor: %d\n", floor)
	return nil
}
