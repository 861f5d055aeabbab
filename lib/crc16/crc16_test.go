package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// 参考 Redis Cluster 规范附录中的测试向量
	assert.Equal(t, uint16(0x31C3), Checksum([]byte("123456789")))
	assert.Equal(t, uint16(0), Checksum(nil))
}

func TestHashTag(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"foo", "foo"},
		{"{user1000}.following", "user1000"},
		{"{user1000}.followers", "user1000"},
		{"foo{}{bar}", "foo{}{bar}"},
		{"foo{{bar}}zap", "{bar"},
		{"foo{bar}{zap}", "bar"},
		{"{", "{"},
		{"no}tag{", "no}tag{"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HashTag(tt.key), tt.key)
	}
}

func TestSlot(t *testing.T) {
	assert.Equal(t, 12182, Slot("foo"))
	assert.Equal(t, 5061, Slot("bar"))
	assert.Equal(t, Slot("{user1000}.following"), Slot("{user1000}.followers"))
	assert.Equal(t, Slot("user1000"), Slot("{user1000}.followers"))

	for _, key := range []string{"", "a", "wp:options:alloptions", "\x00\xff"} {
		s := Slot(key)
		assert.True(t, s >= 0 && s < SlotCount)
	}
}
