package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testRecord() Record {
	white := "41"
	return Record{
		WhitePlayerID: &white,
		BlackPlayerID: nil,
		GameTypeID:    GameTypeChess,
		PlayedAt:      time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		PGN:           "1. e4 e5 1/2-1/2",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueueDeliversWithRetries(t *testing.T) {
	var calls int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(body)
		if n <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	rdb := newTestRedis(t)
	q := NewQueue(rdb, NewClient(srv.URL), QueueConfig{
		MaxAttempts:  5,
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
	})
	q.Start()
	t.Cleanup(q.Stop)

	q.Submit(testRecord())

	waitFor(t, 5*time.Second, func() bool { return atomic.LoadInt32(&calls) >= 3 })

	var got Record
	if err := json.Unmarshal(lastBody.Load().([]byte), &got); err != nil {
		t.Fatalf("decode posted body: %v", err)
	}
	if got.GameTypeID != GameTypeChess || got.WhitePlayerID == nil || *got.WhitePlayerID != "41" {
		t.Fatalf("posted record = %+v", got)
	}
	if got.BlackPlayerID != nil {
		t.Fatalf("black id should round-trip as null, got %v", *got.BlackPlayerID)
	}

	// nothing pending or dead after success
	waitFor(t, 2*time.Second, func() bool {
		ctx := context.Background()
		p, _ := rdb.LLen(ctx, pendingKey).Result()
		d, _ := rdb.LLen(ctx, deadKey).Result()
		return p == 0 && d == 0
	})
}

func TestQueueParksExhaustedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	rdb := newTestRedis(t)
	q := NewQueue(rdb, NewClient(srv.URL), QueueConfig{
		MaxAttempts:  2,
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
	})
	q.Start()
	t.Cleanup(q.Stop)

	q.Submit(testRecord())

	waitFor(t, 5*time.Second, func() bool {
		n, _ := rdb.LLen(context.Background(), deadKey).Result()
		return n == 1
	})

	raw, err := rdb.LIndex(context.Background(), deadKey, 0).Bytes()
	if err != nil {
		t.Fatalf("read dead letter: %v", err)
	}
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if it.Attempts != 2 || it.Record.PGN == "" {
		t.Fatalf("dead item = %+v", it)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	rdb := newTestRedis(t)

	// enqueue with no worker running
	q := NewQueue(rdb, NewClient("http://127.0.0.1:1"), QueueConfig{})
	q.Submit(testRecord())
	waitFor(t, 2*time.Second, func() bool {
		n, _ := rdb.LLen(context.Background(), pendingKey).Result()
		return n == 1
	})

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	// a fresh worker picks up the pending item
	q2 := NewQueue(rdb, NewClient(srv.URL), QueueConfig{PollInterval: 10 * time.Millisecond})
	q2.Start()
	t.Cleanup(q2.Stop)

	waitFor(t, 5*time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
}
