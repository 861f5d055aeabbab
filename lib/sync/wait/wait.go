package wait

import (
	"context"
	"sync"
	"time"
)

// Wait 是可以限时等待的 WaitGroup
// 连接用它等待正在写的回复，服务端用它等待正在处理的连接
type Wait struct {
	wg sync.WaitGroup
}

func (w *Wait) Add(delta int) { w.wg.Add(delta) }

func (w *Wait) Done() { w.wg.Done() }

func (w *Wait) Wait() { w.wg.Wait() }

// WaitContext 等到计数归零或 ctx 结束，后者返回 ctx.Err()
func (w *Wait) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWithTimeout 超时返回 true
func (w *Wait) WaitWithTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.WaitContext(ctx) != nil
}
