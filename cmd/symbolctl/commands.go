package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/GoPolymarket/logbridge/internal/deobf"
	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/GoPolymarket/logbridge/internal/repository"
	"github.com/GoPolymarket/logbridge/internal/symbols"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	mapDirs        []string
	redisAddr      string
	redisPrefix    string
	devPermutation string
	verbose        bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "symbolctl",
		Short:         "Inspect symbol maps and deobfuscate client stack traces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringArrayVar(&opts.mapDirs, "maps", nil, "symbol map directory (repeatable, searched in order)")
	root.PersistentFlags().StringVar(&opts.redisAddr, "redis", "", "redis address holding uploaded symbol maps")
	root.PersistentFlags().StringVar(&opts.redisPrefix, "redis-prefix", "symbolmap", "redis key prefix for symbol maps")
	root.PersistentFlags().StringVar(&opts.devPermutation, "dev-permutation", deobf.DefaultDevPermutation, "permutation name that is never deobfuscated")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log symbol map loading to stderr")

	root.AddCommand(newInspectCmd(opts), newResolveCmd(opts), newUploadCmd(opts))
	return root
}

// store builds a symbol store from the flags. The returned func releases
// the redis connection, if any.
func (o *rootOptions) store(errOut io.Writer) (*symbols.Store, func(), error) {
	level := "error"
	if o.verbose {
		level = "debug"
	}
	log := logger.New(errOut, level)

	var sources []symbols.Source
	for _, dir := range o.mapDirs {
		sources = append(sources, symbols.NewDirSource(dir))
	}
	cleanup := func() {}
	if o.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		cleanup = func() { _ = client.Close() }
		sources = append(sources, repository.NewRedisSymbolSource(client, o.redisPrefix))
	}
	if len(sources) == 0 {
		return nil, cleanup, errors.New("no symbol map location given, use --maps or --redis")
	}
	return symbols.NewStore(log, sources...), cleanup, nil
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect PERMUTATION",
		Short: "Show which sources have a symbol map for a permutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := opts.store(cmd.ErrOrStderr())
			defer cleanup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			out := cmd.OutOrStdout()
			for _, err := range store.Validate(ctx) {
				fmt.Fprintf(out, "warning: %v\n", err)
			}

			entry := store.Load(ctx, args[0])
			fmt.Fprintf(out, "permutation %s\n", entry.Permutation)
			for _, m := range entry.Maps {
				fmt.Fprintf(out, "  %-40s %d symbols\n", m.Source(), m.Len())
			}
			for _, err := range entry.Failures {
				fmt.Fprintf(out, "  failed: %v\n", err)
			}
			if !entry.Available() {
				fmt.Fprintln(out, "  no symbol map found")
				return fmt.Errorf("no symbol map for permutation %s", args[0])
			}
			return nil
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve PERMUTATION TRACE.json",
		Short: "Deobfuscate a throwable (JSON, \"-\" for stdin) and print it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := opts.store(cmd.ErrOrStderr())
			defer cleanup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			chain, err := readThrowable(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}

			d := deobf.New(store, deobf.Options{
				DevPermutation: opts.devPermutation,
				Logger:         logger.New(cmd.ErrOrStderr(), "warn"),
			})
			d.ResolveChain(ctx, chain, args[0])

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(chain)
			}
			_, err = io.WriteString(out, chain.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolved throwable as JSON")
	return cmd
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload PERMUTATION FILE",
		Short: "Parse a symbol map file and store it in redis for the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.redisAddr == "" {
				return errors.New("upload needs --redis")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := symbols.Parse(f, args[0], args[1])
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}

			client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
			defer client.Close()
			src := repository.NewRedisSymbolSource(client, opts.redisPrefix)
			if err := src.Store(ctx, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d symbols for %s\n", m.Len(), args[0])
			return nil
		},
	}
}

func readThrowable(path string, stdin io.Reader) (*model.ThrowableChain, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var chain model.ThrowableChain
	if err := json.NewDecoder(r).Decode(&chain); err != nil {
		return nil, fmt.Errorf("decode throwable: %w", err)
	}
	return &chain, nil
}
