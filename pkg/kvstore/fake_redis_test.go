package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/redis"
)

type fakeRedis struct {
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeRedis) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (f *fakeRedis) KVKey(key string) string { return "fs:kv:" + key }

func (f *fakeRedis) KVPrefix() string { return "fs:kv:" }
