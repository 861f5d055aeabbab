// Package crc16 实现 Redis Cluster 使用的 CRC16 (XMODEM) 以及哈希槽计算
package crc16

// SlotCount 集群哈希槽总数
const SlotCount = 16384

var table [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// Checksum 计算 CRC16-CCITT (XMODEM)
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return crc
}

// HashTag 返回 key 中参与哈希的部分
// 只有第一个 '{' 之后存在非空的 '{...}' 时才使用花括号内的子串
func HashTag(key string) string {
	start := -1
	for i := 0; i < len(key); i++ {
		if key[i] == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return key
	}
	for end := start + 1; end < len(key); end++ {
		if key[end] == '}' {
			if end == start+1 {
				return key // "{}" 为空，整个 key 参与哈希
			}
			return key[start+1 : end]
		}
	}
	return key
}

// Slot 计算 key 所在的哈希槽
func Slot(key string) int {
	return int(Checksum([]byte(HashTag(key))) % SlotCount)
}
