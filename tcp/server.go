package tcp

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/tcp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/sync/wait"
)

// Config 监听配置，DrainTimeout 为关闭时等待在途连接的上限
type Config struct {
	Address      string
	DrainTimeout time.Duration
}

const defaultDrainTimeout = 5 * time.Second

// ListenAndServerWithSignal 监听地址，收到 SIGINT/SIGTERM 等信号后关闭
func ListenAndServerWithSignal(cfg *Config, handler tcp.Handler) error {
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	log.WithField("addr", listener.Addr().String()).Info("listening")

	closeChan := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig.String()).Info("received signal")
		close(closeChan)
	}()
	Serve(listener, handler, closeChan, cfg.DrainTimeout)
	return nil
}

// ListenAndServer 在已有的 listener 上接受连接，closeChan 可读时关闭
func ListenAndServer(listener net.Listener, handler tcp.Handler, closeChan <-chan struct{}) {
	Serve(listener, handler, closeChan, defaultDrainTimeout)
}

// Serve 接受连接直到 listener 关闭，然后最多等待 drain 让在途连接结束
func Serve(listener net.Listener, handler tcp.Handler, closeChan <-chan struct{}, drain time.Duration) {
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			_ = listener.Close()
			_ = handler.Close()
		})
	}
	go func() {
		<-closeChan
		shutdown()
	}()
	defer shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var active wait.Wait
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		log.Debugf("accepted %s", conn.RemoteAddr())
		active.Add(1)
		go func() {
			defer active.Done()
			handler.Handle(ctx, conn)
		}()
	}

	shutdown()
	if active.WaitWithTimeout(drain) {
		log.Warnf("connections still open after %s", drain)
	}
}
