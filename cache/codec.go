package cache

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/rhubarbgroup/redis-cache-sub002/config"
)

// 存储格式：整数保存为十进制文本，这样 INCRBY 可以直接作用于它；
// 其余值以一个格式字节开头，后面是 cbor 编码（可能经过压缩）
const (
	formatCBOR   byte = 0x00
	formatZstd   byte = 0x01
	formatBrotli byte = 0x02
)

// compressThreshold 编码后小于该长度的值不压缩
const compressThreshold = 1024

type codec struct {
	compression string
	enc         cbor.EncMode
	dec         cbor.DecMode
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

func newCodec(compression string) (*codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		return nil, err
	}
	c := &codec{compression: compression, enc: enc, dec: dec}
	if compression == config.CompressionZstd {
		if c.zenc, err = zstd.NewWriter(nil); err != nil {
			return nil, err
		}
	}
	// 解压不依赖当前配置，切换压缩算法后旧数据仍可读
	if c.zdec, err = zstd.NewReader(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// integer 整数类型的值按十进制保存
func integer(v interface{}) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint8:
		return strconv.FormatUint(uint64(n), 10), true
	case uint16:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	}
	return "", false
}

func (c *codec) encode(v interface{}) (string, error) {
	if s, ok := integer(v); ok {
		return s, nil
	}
	raw, err := c.enc.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	format := formatCBOR
	if len(raw) >= compressThreshold {
		switch c.compression {
		case config.CompressionZstd:
			raw = c.zenc.EncodeAll(raw, nil)
			format = formatZstd
		case config.CompressionBrotli:
			if raw, err = compressBrotli(raw); err != nil {
				return "", err
			}
			format = formatBrotli
		}
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, format)
	out = append(out, raw...)
	return string(out), nil
}

// decode 整数返回 int64，不是本格式写入的值原样作为字符串返回
func (c *codec) decode(s string) (interface{}, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if s == "" || s[0] > formatBrotli {
		return s, nil
	}
	raw := []byte(s[1:])
	var err error
	switch s[0] {
	case formatZstd:
		if raw, err = c.zdec.DecodeAll(raw, nil); err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	case formatBrotli:
		if raw, err = decompressBrotli(raw); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
	}
	var v interface{}
	if err := c.dec.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

func compressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := brotli.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
