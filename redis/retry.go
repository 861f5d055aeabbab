package redis

import (
	"errors"

	"github.com/rhubarbgroup/redis-cache-sub002/cluster"
	"github.com/rhubarbgroup/redis-cache-sub002/command"
	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/logger"
	"github.com/rhubarbgroup/redis-cache-sub002/lib/utils"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/client"
	"github.com/rhubarbgroup/redis-cache-sub002/resp/reply"
)

var askingCmd = utils.ToCmdLine("ASKING")

// roundTrip 在一条连接上执行命令，asking 为 true 时先发送 ASKING
// 错误回复转换为 *errs.ServerError
func roundTrip(conn *client.Connection, cmd *command.Command, asking bool) (resp.Reply, error) {
	if _, err := cluster.Connect(conn); err != nil {
		return nil, err
	}
	if !asking {
		return conn.Do(cmd.Args)
	}
	if err := conn.Write(askingCmd, cmd.Args); err != nil {
		return nil, err
	}
	if _, err := conn.Read(); err != nil {
		return nil, err
	}
	r, err := conn.Read()
	if err != nil {
		return nil, err
	}
	if er, ok := r.(reply.ErrorReply); ok {
		return r, &errs.ServerError{Msg: er.Error()}
	}
	return r, nil
}

// execute 路由并执行命令，按错误类别做纠正：
// MOVED/ASK 按重定向重试，总次数不超过 MaxRedirects；
// READONLY 刷新拓扑后重试一次；
// 连接错误只对只读或可重试命令重连重试一次；
// 认证、配置、协议错误直接返回
func (c *Client) execute(cmd *command.Command) (resp.Reply, error) {
	conn, err := c.router.Route(cmd)
	if err != nil {
		return nil, err
	}
	var (
		redirects   int
		asking      bool
		reconnected bool
		rerouted    bool
	)
	for {
		r, err := roundTrip(conn, cmd, asking)
		asking = false
		if err == nil {
			return r, nil
		}

		var se *errs.ServerError
		if errors.As(err, &se) {
			ask, slot, addr, ok := errs.ParseRedirect(se.Msg)
			if ok {
				redirector, isCluster := c.router.(cluster.Redirector)
				if !isCluster {
					return nil, err
				}
				redirects++
				if redirects > c.cfg.MaxRedirects {
					return nil, &errs.Error{Kind: errs.KindClusterRouting, Op: cmd.Name, Node: conn.Addr(),
						Msg: "too many cluster redirections", Err: se}
				}
				logger.WithNode(conn.Addr()).Debugf("%s redirected to %s: %s", cmd.Name, addr, se.Msg)
				if ask {
					conn, err = redirector.Ask(addr)
					asking = true
				} else {
					conn, err = redirector.Moved(slot, addr)
				}
				if err != nil {
					return nil, err
				}
				continue
			}
			if se.Kind() == errs.KindReadOnly && !rerouted {
				rerouted = true
				logger.WithNode(conn.Addr()).Infof("%s rejected by read-only node, refreshing topology", cmd.Name)
				if rerr := c.router.Refresh(); rerr != nil {
					return r, err
				}
				if conn, err = c.router.Route(cmd); err != nil {
					return nil, err
				}
				continue
			}
			return r, err
		}

		if errs.IsConnection(err) && cmd.Retryable() && !reconnected {
			reconnected = true
			logger.WithNode(conn.Addr()).Infof("retrying %s after connection failure: %v", cmd.Name, err)
			if conn, err = c.router.Route(cmd); err != nil {
				return nil, err
			}
			continue
		}
		return nil, err
	}
}
