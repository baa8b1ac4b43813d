package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_Turns(t *testing.T) {
	t.Run("returns scripted turns in order across threads", func(t *testing.T) {
		mock := &MockClient{
			Turns: []Turn{
				{FinalResponse: "first"},
				{FinalResponse: "second"},
			},
		}
		ctx := context.Background()

		for _, want := range []string{"first", "second", "second"} {
			thread, err := mock.StartThread(ctx, ThreadOptions{Model: "m"})
			if err != nil {
				t.Fatalf("StartThread failed: %v", err)
			}
			turn, err := thread.Run(ctx, "prompt", ResponseFormat{})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if turn.FinalResponse != want {
				t.Errorf("expected %q, got %q", want, turn.FinalResponse)
			}
			_ = thread.Close()
		}

		if mock.CallCount() != 3 {
			t.Errorf("expected 3 calls, got %d", mock.CallCount())
		}
		if len(mock.Threads) != 3 {
			t.Errorf("expected 3 threads, got %d", len(mock.Threads))
		}
	})

	t.Run("returns empty results when no turns configured", func(t *testing.T) {
		mock := &MockClient{}
		thread, _ := mock.StartThread(context.Background(), ThreadOptions{})

		turn, err := thread.Run(context.Background(), "p", ResponseFormat{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if turn.FinalResponse != `{"results":[]}` {
			t.Errorf("unexpected default response %q", turn.FinalResponse)
		}
	})

	t.Run("records options and prompt", func(t *testing.T) {
		mock := &MockClient{}
		opts := ThreadOptions{Model: "gpt-4o", WorkingDir: "/src"}
		thread, _ := mock.StartThread(context.Background(), opts)
		_, _ = thread.Run(context.Background(), "review this", ResponseFormat{Name: "contract"})

		call := mock.Calls[0]
		if call.Options != opts {
			t.Errorf("expected options %+v, got %+v", opts, call.Options)
		}
		if call.Prompt != "review this" || call.Format.Name != "contract" {
			t.Errorf("unexpected call %+v", call)
		}
	})
}

func TestMockClient_Errors(t *testing.T) {
	t.Run("StartErr fails StartThread", func(t *testing.T) {
		boom := errors.New("dial failed")
		mock := &MockClient{StartErr: boom}

		_, err := mock.StartThread(context.Background(), ThreadOptions{})
		if !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
	})

	t.Run("Errs are returned by index", func(t *testing.T) {
		boom := errors.New("503")
		mock := &MockClient{
			Turns: []Turn{{FinalResponse: "ok"}, {FinalResponse: "unused"}},
			Errs:  []error{nil, boom},
		}
		ctx := context.Background()
		thread, _ := mock.StartThread(ctx, ThreadOptions{})

		if _, err := thread.Run(ctx, "a", ResponseFormat{}); err != nil {
			t.Fatalf("first call should succeed, got %v", err)
		}
		if _, err := thread.Run(ctx, "b", ResponseFormat{}); !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
	})

	t.Run("closed thread rejects turns", func(t *testing.T) {
		mock := &MockClient{}
		thread, _ := mock.StartThread(context.Background(), ThreadOptions{})
		_ = thread.Close()

		_, err := thread.Run(context.Background(), "p", ResponseFormat{})
		if !errors.Is(err, ErrThreadClosed) {
			t.Errorf("expected ErrThreadClosed, got %v", err)
		}
		if mock.CallCount() != 0 {
			t.Errorf("closed thread should not record a call")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		mock := &MockClient{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := mock.StartThread(ctx, ThreadOptions{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMockClient_Reset(t *testing.T) {
	mock := &MockClient{Turns: []Turn{{FinalResponse: "a"}, {FinalResponse: "b"}}}
	ctx := context.Background()
	thread, _ := mock.StartThread(ctx, ThreadOptions{})
	_, _ = thread.Run(ctx, "p", ResponseFormat{})

	mock.Reset()

	if mock.CallCount() != 0 || len(mock.Threads) != 0 {
		t.Fatalf("expected cleared history")
	}
	thread, _ = mock.StartThread(ctx, ThreadOptions{})
	turn, _ := thread.Run(ctx, "p", ResponseFormat{})
	if turn.FinalResponse != "a" {
		t.Errorf("expected rewind to first turn, got %q", turn.FinalResponse)
	}
}
