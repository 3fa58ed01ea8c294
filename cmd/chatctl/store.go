package main

import (
	"os"
	"path/filepath"

	"messenger/internal/client"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// stored 是保存在本地的登录状态。
type stored struct {
	Server string        `json:"server"`
	Tokens client.Tokens `json:"tokens"`
	User   *client.User  `json:"user,omitempty"`
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chatctl.json"
	}
	return filepath.Join(dir, "chatctl", "session.json")
}

// loadStored 读取本地状态；文件不存在时返回空状态。
func loadStored(path string) (*stored, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &stored{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	var s stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &s, nil
}

func saveStored(path string, s *stored) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "create session dir")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write session")
}

func removeStored(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove session")
	}
	return nil
}
