// Command diskcache is a client for diskcached, plus a local demo.
//
//	diskcache --addr http://127.0.0.1:8081 set hey English
//	diskcache get hey
//	diskcache info
//	diskcache demo --dir ./demo-db
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dreamware/diskcache/internal/httpapi"
	"github.com/dreamware/diskcache/pkg/diskcache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errNotFound = errors.New("key not found")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type remoteFlags struct {
	addr    string
	timeout time.Duration
}

func (f *remoteFlags) client() *httpapi.Client {
	return httpapi.NewClient(f.addr)
}

func (f *remoteFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), f.timeout)
}

func newRootCommand() *cobra.Command {
	var rf remoteFlags
	root := &cobra.Command{
		Use:          "diskcache",
		Short:        "Client for a diskcached server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rf.addr, "addr", "http://127.0.0.1:8081", "Server base URL")
	root.PersistentFlags().DurationVar(&rf.timeout, "timeout", httpapi.DefaultTimeout, "Request timeout")

	root.AddCommand(
		newGetCommand(&rf),
		newSetCommand(&rf),
		newDeleteCommand(&rf),
		newClearCommand(&rf),
		newKeysCommand(&rf),
		newInfoCommand(&rf),
		newDemoCommand(),
	)
	return root
}

func newGetCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			v, ok, err := rf.client().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%q: %w", args[0], errNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newSetCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()
			return rf.client().Set(ctx, args[0], args[1])
		},
	}
}

func newDeleteCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			deleted, err := rf.client().Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not found")
			}
			return nil
		},
	}
}

func newClearCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()
			return rf.client().Clear(ctx)
		},
	}
}

func newKeysCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			keys, err := rf.client().Keys(ctx)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newInfoCommand(rf *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show per-shard state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			info, err := rf.client().Info(ctx)
			if err != nil {
				return err
			}
			return printInfo(cmd.OutOrStdout(), info)
		},
	}
}

func printInfo(w io.Writer, info *httpapi.InfoResponse) error {
	fmt.Fprintf(w, "dir:    %s\n", info.Dir)
	fmt.Fprintf(w, "shards: %d\n", info.ShardCount)
	fmt.Fprintf(w, "loaded: %s keys, %s\n\n", humanize.Comma(int64(info.LoadedKeys)), humanize.Bytes(uint64(info.LoadedSize)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tLOADED\tDIRTY\tKEYS\tSIZE\tGETS\tSETS\tDELETES\tPERSIST FAILURES")
	for _, s := range info.Shards {
		fmt.Fprintf(tw, "%d\t%t\t%t\t%d\t%s\t%d\t%d\t%d\t%d\n",
			s.ID, s.Loaded, s.Dirty, s.KeyCount, humanize.Bytes(uint64(s.ByteSize)),
			s.Operations.Gets, s.Operations.Sets, s.Operations.Deletes, s.Operations.PersistFailures)
	}
	return tw.Flush()
}

func newDemoCommand() *cobra.Command {
	var (
		dir    string
		shards int
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a short scripted session against a local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), dir, shards)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./demo-db", "Store directory")
	cmd.Flags().IntVar(&shards, "shards", diskcache.DefaultShards, "Number of shards")
	return cmd
}

func runDemo(ctx context.Context, w io.Writer, dir string, shards int) (err error) {
	c, err := diskcache.Open(dir, diskcache.WithShards(shards))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	keys := []string{"hey", "hi", "yoo-hoo", "bonjour"}
	values := []string{"English", "English", "Slang", "French"}

	for i, k := range keys {
		if err := c.Set(ctx, k, values[i]); err != nil {
			return err
		}
		fmt.Fprintf(w, "set %s=%s\n", k, values[i])
	}
	if err := printValues(ctx, w, c, keys); err != nil {
		return err
	}

	for _, k := range keys[2:] {
		deleted, err := c.Delete(ctx, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "delete %s: %t\n", k, deleted)
	}
	if err := printValues(ctx, w, c, keys); err != nil {
		return err
	}

	if err := c.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "clear")
	return printValues(ctx, w, c, keys)
}

func printValues(ctx context.Context, w io.Writer, c *diskcache.Cache, keys []string) error {
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, ok, err := c.Get(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			v = "<none>"
		}
		parts[i] = k + "=" + v
	}
	fmt.Fprintf(w, "get %s\n", strings.Join(parts, " "))
	return nil
}
