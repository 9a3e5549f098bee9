package group

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyRecord 表示元数据文件为空。
var ErrEmptyRecord = errors.New("empty group record")

// Encode 将分组序列化为写入 group.json 的字节。
func Encode(g Group) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode group %s: %w", g.ID, err)
	}
	return data, nil
}

// Decode 解析 group.json，缺少 id 的记录视为损坏。
func Decode(data []byte) (Group, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Group{}, ErrEmptyRecord
	}
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}
	if g.ID == "" {
		return Group{}, errors.New("decode group: missing id")
	}
	return g, nil
}
