package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhubarbgroup/redis-cache-sub002/cache"
	"github.com/rhubarbgroup/redis-cache-sub002/config"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
)

var (
	cfgFile  string
	logDir   string
	logLevel string
	blogID   int

	// flag 绑定到这个实例，config.LoadWith 再叠加配置文件和 WP_REDIS_ 环境变量
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "redis-cache",
	Short: "Object cache backed by redis",
	Long: `redis-cache inspects and manipulates a WordPress style object cache stored in
redis. Standalone servers, replication, cluster and sentinel topologies are
supported; the connection is configured by a config file, WP_REDIS_* environment
variables or flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logDir == "" {
			return logger.SetLevel(logLevel)
		}
		return logger.Setup(&logger.Settings{
			Path:       logDir,
			Name:       "redis-cache",
			Ext:        "log",
			TimeFormat: "2006-01-02",
			Level:      logLevel,
		})
	},
}

// Execute 由 main.main() 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(64)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&logDir, "log-dir", "", "write logs to a dated file in this directory instead of stderr")
	flags.StringVar(&logLevel, "log-level", "warning", "log level: debug, info, warning or error")
	flags.IntVar(&blogID, "blog", 0, "blog id used in cache keys")

	flags.String("host", "127.0.0.1", "redis host")
	flags.IntP("port", "p", config.DefaultPort, "redis port")
	flags.String("password", "", "redis password")
	flags.IntP("database", "n", 0, "database index")
	flags.String("prefix", "", "cache key prefix")
	for _, name := range []string{"host", "port", "password", "database", "prefix"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

func loadConfig() (*config.Options, error) {
	return config.LoadWith(v, cfgFile)
}

func openCache() (*cache.ObjectCache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cache.Options{Config: cfg, BlogID: blogID})
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
