package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

// EnvPrefix 环境变量前缀，例如 WP_REDIS_HOST、WP_REDIS_SSL_CAFILE
const EnvPrefix = "WP_REDIS"

// Load 从配置文件和环境变量读取配置，path 为空时只读取环境变量
// 支持 yaml/json/toml 等 viper 能识别的格式
func Load(path string) (*Options, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith 使用调用方提供的 viper 实例，方便命令行把 flag 绑定进来
func LoadWith(v *viper.Viper, path string) (*Options, error) {
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Configf("read config %s: %v", path, err)
		}
	}

	// password 可以是字符串，也可以是 [username, password]
	username, password, err := credentials(v.Get("password"))
	if err != nil {
		return nil, err
	}
	v.Set("password", password)
	if username != "" {
		v.Set("username", username)
	}

	opts := &Options{}
	if err := v.Unmarshal(opts); err != nil {
		return nil, errs.Configf("decode config: %v", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func setDefaults(v *viper.Viper, d *Options) {
	v.SetDefault("client", d.Client)
	v.SetDefault("scheme", d.Scheme)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("path", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("database", d.Database)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("retry_interval", d.RetryInterval)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("max_redirects", d.MaxRedirects)
	v.SetDefault("protocol", d.Protocol)
	v.SetDefault("persistent", false)
	v.SetDefault("persistent_id", "")
	v.SetDefault("ssl.cafile", "")
	v.SetDefault("ssl.local_cert", "")
	v.SetDefault("ssl.local_pk", "")
	v.SetDefault("ssl.peer_name", "")
	v.SetDefault("ssl.verify_peer_disabled", false)
	v.SetDefault("cluster", []string{})
	v.SetDefault("servers", []string{})
	v.SetDefault("sentinel", []string{})
	v.SetDefault("service", "")
	v.SetDefault("replica_policy", d.ReplicaPolicy)
	v.SetDefault("prefix", "")
	v.SetDefault("maxttl", 0)
	v.SetDefault("global_groups", []string{})
	v.SetDefault("ignored_groups", []string{})
	v.SetDefault("compression", d.Compression)
	v.SetDefault("disabled", false)
}

func credentials(raw interface{}) (username, password string, err error) {
	switch p := raw.(type) {
	case nil:
		return "", "", nil
	case string:
		// 环境变量里写成 [user,pass] 也视为一对
		if strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]") {
			parts := strings.Split(strings.Trim(p, "[]"), ",")
			return pair(parts)
		}
		return "", p, nil
	case []string:
		return pair(p)
	case []interface{}:
		parts := make([]string, len(p))
		for i, item := range p {
			parts[i] = fmt.Sprint(item)
		}
		return pair(parts)
	}
	return "", fmt.Sprint(raw), nil
}

func pair(parts []string) (string, string, error) {
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"'`)
	}
	switch len(parts) {
	case 1:
		return "", parts[0], nil
	case 2:
		return parts[0], parts[1], nil
	}
	return "", "", errs.Configf("password must be a string or a [username, password] pair, got %d elements", len(parts))
}
