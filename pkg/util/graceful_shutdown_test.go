package util

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	logger.SetOutput(os.Stderr)
	return logger
}

func TestGracefulShutdown_PriorityOrder(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 5*time.Second)

	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	gs.Register(ShutdownResource{Name: "database", Shutdown: record("database"), Priority: 30})
	gs.Register(ShutdownResource{Name: "http", Shutdown: record("http"), Priority: 10})
	gs.Register(ShutdownResource{Name: "amqp", Shutdown: record("amqp"), Priority: 20})

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "amqp", "database"}, order)
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestGracefulShutdown_RegisterCloser(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 5*time.Second)
	closer := &closeRecorder{}
	gs.RegisterCloser("store", closer, 10)

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.True(t, closer.closed)
}

func TestGracefulShutdown_CollectsErrors(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 5*time.Second)

	var secondRan bool
	gs.Register(ShutdownResource{
		Name:     "broken",
		Priority: 10,
		Shutdown: func(ctx context.Context) error { return fmt.Errorf("connection reset") },
	})
	gs.Register(ShutdownResource{
		Name:     "healthy",
		Priority: 20,
		Shutdown: func(ctx context.Context) error { secondRan = true; return nil },
	})

	err := gs.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, secondRan, "one failing resource does not stop the rest")

	var multi *MultiShutdownError
	require.ErrorAs(t, err, &multi)
	require.Len(t, multi.Errors, 1)
}

func TestGracefulShutdown_RecoversPanic(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 5*time.Second)
	gs.Register(ShutdownResource{
		Name:     "panicky",
		Priority: 10,
		Shutdown: func(ctx context.Context) error { panic("boom") },
	})

	err := gs.Shutdown(context.Background())
	require.Error(t, err)

	var multi *MultiShutdownError
	require.ErrorAs(t, err, &multi)
	var pe *ShutdownPanicError
	assert.ErrorAs(t, multi.Errors[0], &pe)
}

func TestGracefulShutdown_Timeout(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 50*time.Millisecond)
	gs.Register(ShutdownResource{
		Name:     "hung",
		Priority: 10,
		Shutdown: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Second)
			return nil
		},
	})

	start := time.Now()
	err := gs.Shutdown(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
