package cmd

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rhubarbgroup/redis-cache-sub002/cache"
	"github.com/rhubarbgroup/redis-cache-sub002/database"
	"github.com/rhubarbgroup/redis-cache-sub002/metrics"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/handler"
	"github.com/rhubarbgroup/redis-cache-sub002/tcp"
)

var (
	serveBind     string
	servePort     int
	servePassword string

	metricsListen   string
	metricsInterval time.Duration
)

// serveCmd 启动内嵌的 Redis 兼容服务端，便于本地开发和演示
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the embedded redis compatible server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("%s:%d", serveBind, servePort)
		server := database.NewServer(database.ServerOptions{Addr: addr, Password: servePassword})
		log.Infof("embedded server listening on %s", addr)
		return tcp.ListenAndServerWithSignal(&tcp.Config{Address: addr}, handler.MakeHandler(server))
	},
}

// metricsCmd 定期探测缓存并通过 HTTP 暴露指标
var metricsCmd = &cobra.Command{
	Use:   "metrics-serve",
	Short: "Probe the object cache periodically and expose Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if metricsInterval <= 0 {
			return fmt.Errorf("invalid probe interval %s", metricsInterval)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		collector := metrics.NewCollector("")
		c, err := cache.New(cache.Options{Config: cfg, BlogID: blogID, Observer: collector})
		if err != nil {
			return err
		}
		defer c.Close()

		go probe(c, metricsInterval)

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		log.Infof("metrics listening on %s", metricsListen)
		return http.ListenAndServe(metricsListen, mux)
	},
}

// probe 每个周期读写一次探测键，让命令耗时和命中率保持更新
func probe(c *cache.ObjectCache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		c.FlushRuntime()
		if _, err := c.Set("probe", time.Now().Unix(), "redis-cache", 2*interval); err != nil {
			log.Errorf("probe failed: %v", err)
			continue
		}
		c.FlushRuntime()
		if _, _, err := c.Get("probe", "redis-cache"); err != nil {
			log.Errorf("probe failed: %v", err)
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveBind, "bind", "127.0.0.1", "address to bind to")
	serveCmd.Flags().IntVar(&servePort, "listen-port", 6379, "port to listen on")
	serveCmd.Flags().StringVar(&servePassword, "requirepass", "", "password clients must AUTH with")

	metricsCmd.Flags().StringVar(&metricsListen, "listen", ":9121", "address of the metrics endpoint")
	metricsCmd.Flags().DurationVar(&metricsInterval, "interval", 15*time.Second, "probe interval")

	rootCmd.AddCommand(serveCmd, metricsCmd)
}
