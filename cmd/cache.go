package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhubarbgroup/redis-cache-sub002/cache"
)

var (
	group string
	ttl   time.Duration
)

// withCache 打开对象缓存，执行 fn 后关闭
func withCache(fn func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, args)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the connection status of the object cache",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		printf(cmd, "%s\n", c.Status())
		return nil
	}),
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Print configuration and server details as JSON",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		out, err := json.MarshalIndent(c.Diagnostics(), "", "  ")
		if err != nil {
			return err
		}
		printf(cmd, "%s\n", out)
		return nil
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a cached value",
	Args:  cobra.ExactArgs(1),
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		value, found, err := c.Get(args[0], group)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s not found in group %s", args[0], groupName())
		}
		printf(cmd, "%v\n", value)
		return nil
	}),
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value, integers are stored as numbers so they can be incremented",
	Args:  cobra.ExactArgs(2),
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		var value interface{} = args[1]
		if n, err := strconv.ParseInt(args[1], 10, 64); err == nil {
			value = n
		}
		ok, err := c.Set(args[0], value, group, ttl)
		return report(cmd, ok, err)
	}),
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"del"},
	Short:   "Delete a cached value",
	Args:    cobra.ExactArgs(1),
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		ok, err := c.Delete(args[0], group)
		return report(cmd, ok, err)
	}),
}

var incrCmd = &cobra.Command{
	Use:   "incr <key> [offset]",
	Short: "Increment an integer value, the result never drops below 0",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		offset := int64(1)
		if len(args) == 2 {
			var err error
			if offset, err = strconv.ParseInt(args[1], 10, 64); err != nil {
				return fmt.Errorf("invalid offset %q", args[1])
			}
		}
		n, ok, err := c.Increment(args[0], offset, group)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s not found in group %s", args[0], groupName())
		}
		printf(cmd, "%d\n", n)
		return nil
	}),
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the object cache, only keys under the prefix when one is configured",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		ok, err := c.Flush()
		return report(cmd, ok, err)
	}),
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send PING to every master",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, c *cache.ObjectCache, args []string) error {
		client := c.Client()
		if client == nil {
			return fmt.Errorf("object cache is %s", c.Status())
		}
		start := time.Now()
		pong, err := client.PingAll()
		if err != nil {
			return err
		}
		printf(cmd, "%s (%s)\n", pong, time.Since(start).Round(time.Microsecond))
		return nil
	}),
}

func groupName() string {
	if group == "" {
		return cache.DefaultGroup
	}
	return group
}

func report(cmd *cobra.Command, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("operation was not applied")
	}
	printf(cmd, "OK\n")
	return nil
}

func init() {
	for _, c := range []*cobra.Command{getCmd, setCmd, deleteCmd, incrCmd} {
		c.Flags().StringVarP(&group, "group", "g", "", "cache group (default \"default\")")
	}
	setCmd.Flags().DurationVar(&ttl, "ttl", 0, "expiry, 0 keeps the value until evicted")
	rootCmd.AddCommand(statusCmd, diagnosticsCmd, getCmd, setCmd, deleteCmd, incrCmd, flushCmd, pingCmd)
}
