package circuitmw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/llm"
)

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b := New(Policy{FailureThreshold: 2, OpenDuration: 20 * time.Millisecond})
	failing := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, errors.New("boom")
	})
	client := b.Middleware()(failing)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	require.Equal(t, Closed, b.State())

	_, err = client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	require.Equal(t, Open, b.State())

	_, err = client.Complete(context.Background(), llm.CompletionRequest{})
	require.ErrorIs(t, err, ErrOpen, "an open breaker must fail fast without calling through")
}

func TestBreakerHalfOpensAfterCooldownAndRecovers(t *testing.T) {
	b := New(Policy{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond})
	succeed := true
	client := b.Middleware()(llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if succeed {
			return llm.CompletionResponse{Content: "ok"}, nil
		}
		return llm.CompletionResponse{}, errors.New("boom")
	}))

	succeed = false
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	require.Equal(t, Open, b.State())

	time.Sleep(10 * time.Millisecond)
	succeed = true
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, Closed, b.State(), "a successful half-open probe must close the breaker")
}
