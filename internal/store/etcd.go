package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	// Prefix is prepended to every key, e.g. "edgeguard/".
	Prefix string `koanf:"prefix"`
}

// Etcd keeps state in an etcd cluster.
type Etcd struct {
	client *clientv3.Client
	prefix string
}

// NewEtcd connects and checks the first endpoint is reachable.
func NewEtcd(ctx context.Context, cfg EtcdConfig) (*Etcd, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd store needs at least one endpoint")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := client.Status(statusCtx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}

	return &Etcd{client: client, prefix: cfg.Prefix}, nil
}

func (e *Etcd) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := e.client.Get(ctx, e.prefix+key)
	if err != nil {
		return "", false, fmt.Errorf("read %s from etcd: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (e *Etcd) Put(ctx context.Context, key, value string) error {
	if _, err := e.client.Put(ctx, e.prefix+key, value); err != nil {
		return fmt.Errorf("write %s to etcd: %w", key, err)
	}
	return nil
}

func (e *Etcd) Close() error {
	return e.client.Close()
}
