// Package main provides a CLI for managing colony player accounts and the
// world tiles they own.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/colony/internal/config"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "useradmin",
		Short:         "Manage colony player accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file")

	rootCmd.AddCommand(
		createCmd(),
		showCmd(),
		flagCmd("admin", "Grant admin rights", func(r *postgres.UserRepository, ctx context.Context, name string) error {
			return r.SetAdmin(ctx, name, true)
		}),
		flagCmd("deadmin", "Revoke admin rights", func(r *postgres.UserRepository, ctx context.Context, name string) error {
			return r.SetAdmin(ctx, name, false)
		}),
		flagCmd("ban", "Ban an account", func(r *postgres.UserRepository, ctx context.Context, name string) error {
			return r.SetBanned(ctx, name, true)
		}),
		flagCmd("unban", "Lift a ban", func(r *postgres.UserRepository, ctx context.Context, name string) error {
			return r.SetBanned(ctx, name, false)
		}),
		worldCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// withPool opens the configured database for the duration of fn.
func withPool(fn func(ctx context.Context, pool *postgres.Pool) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool)
}

func withUsers(fn func(ctx context.Context, repo *postgres.UserRepository) error) error {
	return withPool(func(ctx context.Context, pool *postgres.Pool) error {
		return fn(ctx, pool.Users())
	})
}

func withWorld(fn func(ctx context.Context, repo *postgres.WorldRepository) error) error {
	return withPool(func(ctx context.Context, pool *postgres.Pool) error {
		return fn(ctx, pool.World())
	})
}

func createCmd() *cobra.Command {
	var passwordHash string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			return withUsers(func(ctx context.Context, repo *postgres.UserRepository) error {
				u, err := repo.Create(ctx, args[0], passwordHash)
				if err != nil {
					return fmt.Errorf("creating %q: %w", args[0], err)
				}
				fmt.Fprintf(os.Stdout, "created %s (uid %s) [%s]\n", u.Username, u.UID, time.Since(start))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&passwordHash, "password-hash", "", "password hash as sent by the game client (required)")
	_ = cmd.MarkFlagRequired("password-hash")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *postgres.Pool) error {
				u, err := pool.Users().UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("looking up %q: %w", args[0], err)
				}
				tiles, err := pool.World().StructureTilesByOwner(ctx, u.Username)
				if err != nil {
					return fmt.Errorf("listing structures of %q: %w", u.Username, err)
				}
				fmt.Fprintf(os.Stdout, "%s uid=%s admin=%v banned=%v faction=%q saved_ip=%s created=%s\n",
					u.Username, u.UID, u.IsAdmin, u.IsBanned, u.FactionName, u.SavedIP, u.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(os.Stdout, "structures: %s\n", strings.Join(tiles, ","))
				return nil
			})
		},
	}
}

func flagCmd(name, short string, apply func(r *postgres.UserRepository, ctx context.Context, username string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			return withUsers(func(ctx context.Context, repo *postgres.UserRepository) error {
				if err := apply(repo, ctx, args[0]); err != nil {
					return fmt.Errorf("%s %q: %w", name, args[0], err)
				}
				fmt.Fprintf(os.Stdout, "%s %s [%s]\n", name, args[0], time.Since(start))
				return nil
			})
		},
	}
}

// worldCmd groups operator edits of world tiles.
func worldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "world",
		Short: "Edit settlements and sites",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "settle <username> <tile>",
			Short: "Place or move a settlement",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withWorld(func(ctx context.Context, repo *postgres.WorldRepository) error {
					if err := repo.SaveSettlement(ctx, postgres.Settlement{Owner: args[0], Tile: args[1]}); err != nil {
						return fmt.Errorf("settling %q on %s: %w", args[0], args[1], err)
					}
					fmt.Fprintf(os.Stdout, "settlement %s -> %s\n", args[1], args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "unsettle <tile>",
			Short: "Remove the settlement on a tile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withWorld(func(ctx context.Context, repo *postgres.WorldRepository) error {
					if err := repo.DeleteSettlement(ctx, args[0]); err != nil {
						return fmt.Errorf("removing settlement %s: %w", args[0], err)
					}
					fmt.Fprintf(os.Stdout, "settlement %s removed\n", args[0])
					return nil
				})
			},
		},
		siteCmd(),
		&cobra.Command{
			Use:   "map <username> <tile> <file>",
			Short: "Import a saved map from a JSON file",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[2])
				if err != nil {
					return fmt.Errorf("reading map file: %w", err)
				}
				return withWorld(func(ctx context.Context, repo *postgres.WorldRepository) error {
					if err := repo.SaveMap(ctx, args[1], args[0], data); err != nil {
						return fmt.Errorf("saving map %s: %w", args[1], err)
					}
					fmt.Fprintf(os.Stdout, "map %s (%d bytes) -> %s\n", args[1], len(data), args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func siteCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "site <username> <tile>",
		Short: "Place or replace a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorld(func(ctx context.Context, repo *postgres.WorldRepository) error {
				if err := repo.SaveSite(ctx, postgres.Site{Owner: args[0], Tile: args[1], Kind: kind}); err != nil {
					return fmt.Errorf("saving site %s: %w", args[1], err)
				}
				fmt.Fprintf(os.Stdout, "site %s (%s) -> %s\n", args[1], kind, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "outpost", "site kind")
	return cmd
}
