package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/scout/internal/interrupts"
	"github.com/praxislabs/scout/internal/taskstore"
	"github.com/praxislabs/scout/internal/worker"
)

type testServer struct {
	*Server
	mr     *miniredis.Miniredis
	store  *taskstore.Store
	broker *interrupts.Broker
	http   *httptest.Server
}

type serverOptions struct {
	rateLimit     int
	approvalToken string
	runFor        func(store *taskstore.Store) func(task *taskstore.Task) worker.Run
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zaptest.NewLogger(t)
	store := taskstore.NewStore(client, time.Hour, logger)
	broker := interrupts.NewBroker(logger)

	pool := worker.NewPool(2, logger, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	var limiter *RateLimiter
	if opts.rateLimit > 0 {
		limiter = NewRateLimiter(client, opts.rateLimit, logger)
	}

	runFor := func(task *taskstore.Task) worker.Run {
		return worker.Run{TaskID: task.ID, Do: func(context.Context) {}}
	}
	if opts.runFor != nil {
		runFor = opts.runFor(store)
	}

	srv := NewServer(store, pool, broker, limiter, runFor, time.Hour, opts.approvalToken, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testServer{Server: srv, mr: mr, store: store, broker: broker, http: ts}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.http.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitTaskAccepted(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{
		"message":   "research the history of tea",
		"thread_id": "thread-7",
	}, nil)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "thread-7", body["thread_id"])
	assert.Equal(t, "Your request is being processed in the background...", body["message"])

	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	task, err := ts.store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "research the history of tea", task.Message)
	assert.Equal(t, "thread-7", task.ThreadID)
}

func TestSubmitTaskGeneratesThreadID(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{"message": "hello"}, nil)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["thread_id"])
}

func TestSubmitTaskRequiresMessage(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{"thread_id": "t"}, nil)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "message is required", body["error"])
}

func TestSubmitTaskRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, err := http.Post(ts.http.URL+"/api/v1/tasks", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmittedTaskIsExecuted(t *testing.T) {
	ts := newTestServer(t, serverOptions{
		runFor: func(store *taskstore.Store) func(task *taskstore.Task) worker.Run {
			return func(task *taskstore.Task) worker.Run {
				return worker.Run{TaskID: task.ID, Do: func(ctx context.Context) {
					store.Complete(ctx, task.ID, "the report")
				}}
			}
		},
	})

	resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{"message": "go"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	taskID := decodeBody(t, resp)["task_id"].(string)

	require.Eventually(t, func() bool {
		task, err := ts.store.Get(context.Background(), taskID)
		return err == nil && task.Status == taskstore.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTaskStatusLifecycle(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	task := &taskstore.Task{ID: "task-42", ThreadID: "t", Message: "m", Status: taskstore.StatusPending}
	require.NoError(t, ts.store.Create(context.Background(), task))
	require.NoError(t, ts.store.Complete(context.Background(), "task-42", "done report"))

	resp, err := http.Get(ts.http.URL + "/api/v1/tasks/task-42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "task-42", body["task_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "done report", body["result"])
	assert.Nil(t, body["error"])
}

func TestTaskStatusUnknownTask(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, err := http.Get(ts.http.URL + "/api/v1/tasks/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "task not found or expired", body["error"])
}

func TestTaskStatusAfterExpiry(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	task := &taskstore.Task{ID: "task-9", ThreadID: "t", Message: "m", Status: taskstore.StatusPending}
	require.NoError(t, ts.store.Create(context.Background(), task))

	ts.mr.FastForward(2 * time.Hour)

	resp, err := http.Get(ts.http.URL + "/api/v1/tasks/task-9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmissionRateLimit(t *testing.T) {
	ts := newTestServer(t, serverOptions{rateLimit: 2})

	for i := 0; i < 2; i++ {
		resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{
			"message":   fmt.Sprintf("request %d", i),
			"thread_id": "hot-thread",
		}, nil)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := ts.postJSON(t, "/api/v1/tasks", map[string]string{
		"message":   "one too many",
		"thread_id": "hot-thread",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()

	// A different thread still has its own budget.
	other := ts.postJSON(t, "/api/v1/tasks", map[string]string{
		"message":   "fresh thread",
		"thread_id": "cold-thread",
	}, nil)
	other.Body.Close()
	assert.Equal(t, http.StatusAccepted, other.StatusCode)
}

func TestApprovalDecisionResolvesInterrupt(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	_, err := ts.broker.Raise("task-5", "proposed plan")
	require.NoError(t, err)

	type result struct {
		verdict interrupts.Verdict
		err     error
	}
	got := make(chan result, 1)
	go func() {
		v, err := ts.broker.Await(context.Background(), "task-5")
		got <- result{v, err}
	}()

	resp := ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":        "task-5",
		"approved":       true,
		"modified_query": "narrower plan",
		"approved_by":    "reviewer",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.True(t, r.verdict.Approved)
		assert.Equal(t, "narrower plan", r.verdict.ModifiedQuery)
		assert.Equal(t, "reviewer", r.verdict.ApprovedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("verdict was not delivered")
	}
}

func TestApprovalDecisionWithoutPendingInterrupt(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":  "ghost",
		"approved": true,
	}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "no pending approval for task", body["error"])
}

func TestApprovalDecisionRequiresToken(t *testing.T) {
	ts := newTestServer(t, serverOptions{approvalToken: "secret"})

	resp := ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":  "task-5",
		"approved": true,
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":  "task-5",
		"approved": true,
	}, map[string]string{"Authorization": "Bearer wrong"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err := ts.broker.Raise("task-5", "plan")
	require.NoError(t, err)
	go ts.broker.Await(context.Background(), "task-5")

	resp = ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":  "task-5",
		"approved": true,
	}, map[string]string{"Authorization": "Bearer secret"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApprovalDecisionRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.postJSON(t, "/api/v1/approvals/decision", map[string]any{
		"task_id":  "task-5",
		"approved": true,
		"whoops":   "unexpected",
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	ts.mr.Close()

	resp, err = http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
