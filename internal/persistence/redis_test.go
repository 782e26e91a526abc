package persistence

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/authgate/internal/config"
)

func TestNewRedis_Connects(t *testing.T) {
	srv := miniredis.RunT(t)
	core, logs := observer.New(zap.InfoLevel)

	r := NewRedis(context.Background(), config.RedisConfig{Addr: srv.Addr()}, zap.New(core))
	defer r.Close()

	require.NoError(t, r.Ping(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("connected to redis").Len())
}

// silentListener accepts connections and never answers.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestNewRedis_StartupPingHonorsContext(t *testing.T) {
	addr := silentListener(t)
	core, logs := observer.New(zap.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := NewRedis(ctx, config.RedisConfig{Addr: addr}, zap.New(core))
	defer r.Close()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, logs.FilterMessage("redis unreachable at startup").Len())
}

func TestRedis_PingWithoutClient(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
}
