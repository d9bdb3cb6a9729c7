package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/klapom/aegisrag/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func newTestManager(t *testing.T, h http.Handler) *Manager {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return NewManager(h, cfg, zaptest.NewLogger(t))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DefaultServerConfig())
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, 120*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultConfig().IdleTimeout, cfg.IdleTimeout)

	cfg = ConfigFrom(config.ServerConfig{})
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Zero(t, cfg.WriteTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := newTestManager(t, okHandler())
	require.NoError(t, m.Start())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	// 重复关闭无副作用
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartTwiceAndAfterShutdown(t *testing.T) {
	m := newTestManager(t, okHandler())
	require.NoError(t, m.Start())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_ShutdownHooksRunInReverse(t *testing.T) {
	m := newTestManager(t, okHandler())
	require.NoError(t, m.Start())

	var mu sync.Mutex
	var order []string
	hook := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	boom := errors.New("boom")
	m.OnShutdown("database", hook("database", nil))
	m.OnShutdown("pool", hook("pool", boom))
	m.OnShutdown("coordinator", hook("coordinator", nil))

	err := m.Shutdown(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pool")
	assert.Equal(t, []string{"coordinator", "pool", "database"}, order)
}

func TestManager_RunStopsOnContextCancel(t *testing.T) {
	m := newTestManager(t, okHandler())
	hookRan := make(chan struct{})
	m.OnShutdown("marker", func(context.Context) error {
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Addr() != "127.0.0.1:0" }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	<-hookRan
	assert.False(t, m.IsRunning())
}

func TestManager_RunListenError(t *testing.T) {
	first := newTestManager(t, okHandler())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager(okHandler(), cfg, nil)
	err := second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_ErrorsEmpty(t *testing.T) {
	m := newTestManager(t, okHandler())
	select {
	case <-m.Errors():
		t.Fatal("unexpected error")
	default:
	}
}
