package client_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/testlog"
)

func TestBatcherFlushOnSize(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		require.Len(t, reqs, 2, "both calls travel in one batch")
		return resultResponses(reqs, `"0x1"`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)
	b, err := client.NewBatcher(cl, testlog.Logger(t, slog.LevelDebug), &client.BatcherConfig{
		MaxBatchSize: 2,
		MaxBatchWait: time.Minute, // only the size limit may flush
	})
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, b.ScheduleCall(context.Background(), &results[i], "eth_chainId"))
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, tr.roundTrips.Load())
	require.Equal(t, []string{"0x1", "0x1"}, results)
}

func TestBatcherFlushOnTimer(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return resultResponses(reqs, `"0x7"`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)
	b, err := client.NewBatcher(cl, testlog.Logger(t, slog.LevelDebug), &client.BatcherConfig{
		MaxBatchSize: 100,
		MaxBatchWait: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer b.Close()

	var result string
	require.NoError(t, b.ScheduleCall(context.Background(), &result, "eth_gasPrice"))
	require.Equal(t, "0x7", result)
	require.EqualValues(t, 1, tr.roundTrips.Load())
}

func TestBatcherExplicitFlush(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return resultResponses(reqs, `"0x7"`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)
	b, err := client.NewBatcher(cl, testlog.Logger(t, slog.LevelDebug), &client.BatcherConfig{
		MaxBatchSize: 100,
		MaxBatchWait: time.Minute,
	})
	require.NoError(t, err)
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		var result string
		done <- b.ScheduleCall(context.Background(), &result, "eth_gasPrice")
	}()

	// wait until the call sits in the window, then force it out
	require.Eventually(t, func() bool {
		b.Flush()
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
}

func TestBatcherClosed(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return resultResponses(reqs, `"0x1"`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)
	b, err := client.NewBatcher(cl, testlog.Logger(t, slog.LevelDebug), nil)
	require.NoError(t, err)
	b.Close()

	err = b.ScheduleCall(context.Background(), nil, "eth_chainId")
	require.ErrorContains(t, err, "batcher closed")
}

func TestBatcherBadConfig(t *testing.T) {
	cl := client.New(&scriptedTransport{}, testlog.Logger(t, slog.LevelDebug), nil)
	_, err := client.NewBatcher(cl, testlog.Logger(t, slog.LevelDebug), &client.BatcherConfig{MaxBatchSize: 0})
	require.Error(t, err)
}
