package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// setKeyPayload 固定字段顺序，保证序列化结果稳定
type setKeyPayload struct {
	Skills   []string `json:"skills"`
	Steering []string `json:"steering"`
}

// SetKey 为 (skills, steering) 两个集合生成稳定键.
// 输入切片不会被修改; 元素顺序不影响结果.
func SetKey(skills, steering []string) string {
	payload := setKeyPayload{
		Skills:   sortedCopy(skills),
		Steering: sortedCopy(steering),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// 字符串切片的序列化不会失败
		panic(err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16]) // 使用前 16 字节
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
