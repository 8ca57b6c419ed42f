package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeComponent struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (c *fakeComponent) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started.Store(true)
	return nil
}

func (c *fakeComponent) Stop(context.Context) error {
	c.stopped.Store(true)
	return nil
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	comp := &fakeComponent{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Handler:         handler,
			Components:      []Component{comp},
			Logger:          zap.NewNop(),
			Listener:        ln,
			ShutdownTimeout: time.Second,
		})
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // readiness poll
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 3*time.Second, 20*time.Millisecond)
	require.True(t, comp.started.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.True(t, comp.stopped.Load())
}

func TestRunStopsStartedComponentsOnStartFailure(t *testing.T) {
	t.Parallel()

	first := &fakeComponent{}
	second := &fakeComponent{startErr: errors.New("bad cron spec")}
	err := Run(context.Background(), Options{
		Components: []Component{first, second},
		Logger:     zap.NewNop(),
	})
	require.ErrorContains(t, err, "bad cron spec")
	require.True(t, first.stopped.Load())
	require.False(t, second.stopped.Load())
}
