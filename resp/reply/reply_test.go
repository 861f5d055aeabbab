package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rhubarbgroup/redis-cache-sub002/interface/resp"
)

func TestToBytes(t *testing.T) {
	tests := []struct {
		in   resp.Reply
		want string
	}{
		{MakeStatusReply("OK"), "+OK\r\n"},
		{MakeErrReply("ERR bad"), "-ERR bad\r\n"},
		{MakeIntReply(0), ":0\r\n"},
		{MakeIntReply(-9223372036854775807), ":-9223372036854775807\r\n"},
		{MakeBulkReply([]byte("foobar")), "$6\r\nfoobar\r\n"},
		{MakeBulkReply([]byte{}), "$0\r\n\r\n"},
		{MakeNullBulkReply(), "$-1\r\n"},
		{&NullArrayReply{}, "*-1\r\n"},
		{&EmptyMultiBulkReply{}, "*0\r\n"},
		{MakeMultiBulkReply([][]byte{[]byte("SET"), []byte("key"), []byte("value")}),
			"*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"},
		{MakeMultiBulkReply([][]byte{[]byte("a"), nil}), "*2\r\n$1\r\na\r\n$-1\r\n"},
		{MakeArrayReply([]resp.Reply{MakeOkReply(), MakeArrayReply([]resp.Reply{MakeIntReply(1)})}),
			"*2\r\n+OK\r\n*1\r\n:1\r\n"},
		{MakeQueuedReply(), "+QUEUED\r\n"},
		{ReadOnlyErr, "-READONLY You can't write against a read only replica.\r\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(tt.in.ToBytes()))
	}
}

func TestIsErrorReply(t *testing.T) {
	assert.True(t, IsErrorReply(MakeErrReply("ERR x")))
	assert.True(t, IsErrorReply(MakeArgNumErrReply("get")))
	assert.False(t, IsErrorReply(MakeStatusReply("ERR looks like one")))
	assert.False(t, IsErrorReply(MakeNullBulkReply()))
}
