package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeUsers serializes the table as a protobuf Struct of name -> password
func EncodeUsers(t *UserTable) ([]byte, error) {
	msg := &structpb.Struct{Fields: make(map[string]*structpb.Value, t.Len())}
	t.Range(func(name, password string) bool {
		msg.Fields[name] = structpb.NewStringValue(password)
		return true
	})
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

// DecodeUsers inserts every user found in data into t
func DecodeUsers(data []byte, t *UserTable) error {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode user snapshot: %w", err)
	}
	for name, v := range msg.GetFields() {
		pwd, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return fmt.Errorf("decode user snapshot: user %q has a non-string password", name)
		}
		t.Insert(name, pwd.StringValue)
	}
	return nil
}

// LoadSnapshot fills t from the file at path. A missing file is not an error.
func LoadSnapshot(path string, t *UserTable) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read user snapshot: %w", err)
	}
	return DecodeUsers(data, t)
}

// SaveSnapshot writes t to path, replacing the previous file atomically
func SaveSnapshot(path string, t *UserTable) error {
	data, err := EncodeUsers(t)
	if err != nil {
		return fmt.Errorf("encode user snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write user snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write user snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write user snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write user snapshot: %w", err)
	}
	return nil
}
