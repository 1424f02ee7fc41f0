package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	seckillcache "github.com/huykn/seckill-cache"
	"github.com/huykn/seckill-cache/cache"
	"github.com/huykn/seckill-cache/idgen"
)

var errNoSource = errors.New("seckillctl has no source of truth to rebuild from")

func newPreloadCmd(a *app) *cobra.Command {
	var fromDB bool

	cmd := &cobra.Command{
		Use:   "preload [voucher-id stock]",
		Short: "Set a voucher's stock in the order store and in Redis",
		Args: func(cmd *cobra.Command, args []string) error {
			if fromDB {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			if fromDB {
				n, err := a.toolkit.RestockFromStore(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d vouchers\n", n)
				return nil
			}

			stock, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "stock %q", args[1])
			}
			if err := a.toolkit.AddVoucher(ctx, args[0], stock); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "voucher %s: stock %d\n", args[0], stock)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "reload every voucher's stock from the order store")
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "submit voucher-id purchaser-id",
		Short: "Reserve a voucher for a purchaser",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			orderID, err := a.toolkit.Submit(ctx, args[0], args[1])
			var rejection *seckillcache.RejectionError
			if errors.As(err, &rejection) {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", rejection.Code)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %d accepted\n", orderID)

			if wait <= 0 || a.toolkit.Orders == nil {
				return nil
			}
			return waitForOrder(ctx, a, cmd, orderID, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the order to be persisted")
	return cmd
}

func waitForOrder(ctx context.Context, a *app, cmd *cobra.Command, orderID int64, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		order, found, err := a.toolkit.Orders.FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if found {
			fmt.Fprintf(cmd.OutOrStdout(), "order %d persisted at %s\n", order.ID, order.CreatedAt.Format(time.RFC3339))
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return errors.Newf("order %d not persisted after %s", orderID, wait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func newNextIDCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next-id namespace",
		Short: "Mint ids from the shared generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			for i := 0; i < count; i++ {
				id, err := a.toolkit.IDs.NextID(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\tseq=%d\n", id, idgen.Timestamp(id).Format(time.RFC3339), idgen.Sequence(id))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids")
	return cmd
}

func newWarmCmd(a *app) *cobra.Command {
	var (
		ttl  time.Duration
		file string
	)

	cmd := &cobra.Command{
		Use:   "warm key [json]",
		Short: "Write a logically expiring cache entry",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				raw = data
			case len(args) == 2:
				raw = []byte(args[1])
			default:
				return errors.New("a json value or --file is required")
			}
			if !json.Valid(raw) {
				return errors.New("value is not valid json")
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.toolkit.Cache.SetWithLogicalExpiry(ctx, args[0], json.RawMessage(raw), ttl); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s warmed, logical ttl %s\n", args[0], ttl)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Minute, "logical time to live")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the json value from a file")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get key-prefix id",
		Short: "Read a logically expiring cache entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			// A stale entry is printed as is; its rebuild fails and leaves it in place.
			noSource := func(context.Context, string) (json.RawMessage, bool, error) {
				return nil, false, errNoSource
			}
			value, found, err := cache.QueryWithLogicalExpiry(ctx, a.toolkit.Cache, args[0], args[1], noSource, time.Minute)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "absent")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	}
}
