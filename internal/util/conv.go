package util

import (
	"strconv"
)

// ParseID 解析路径中的正整数 ID；非法或为 0 时 ok 为 false
func ParseID(s string) (id uint, ok bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
