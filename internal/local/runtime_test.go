package local

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/blobstack-go/contract"
	"github.com/lex00/blobstack-go/internal/config"
	"github.com/lex00/blobstack-go/internal/topology"
)

func testTopology() *topology.Topology {
	return topology.Blobs(&config.Config{
		Service:     "svc",
		StackName:   "svc",
		Identity:    config.IdentityLeastPrivilege,
		AdminPolicy: "AdministratorAccess",
		Runtime:     "python3.12",
		Handler:     "index.handler",
		SourceDir:   "src",
		Bucket:      config.BucketConfig{RemovalPolicy: config.RemovalRetain},
	})
}

func waitIdle(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Wait(ctx))
}

// recorder collects stream events delivered to make_callback.
type recorder struct {
	mu      sync.Mutex
	records []events.DynamoDBEventRecord
	batches []int
}

func (r *recorder) handle(_ context.Context, event events.DynamoDBEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, len(event.Records))
	r.records = append(r.records, event.Records...)
	return nil
}

func (r *recorder) snapshot() []events.DynamoDBEventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.DynamoDBEventRecord(nil), r.records...)
}

func ok(_ context.Context, _ events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func noopObject(context.Context, events.S3Event) error { return nil }

func baseHandlers(stream contract.StreamHandler) Handlers {
	return Handlers{
		API: map[string]contract.APIHandler{
			topology.CreateBlob: ok,
			topology.GetBlob:    ok,
		},
		Object: map[string]contract.ObjectCreatedHandler{topology.ProcessBlob: noopObject},
		Stream: map[string]contract.StreamHandler{topology.MakeCallback: stream},
	}
}

func TestRuntime_EndToEnd(t *testing.T) {
	var rt *Runtime
	calls := &recorder{}

	handlers := Handlers{
		API: map[string]contract.APIHandler{
			topology.CreateBlob: func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
				env, ok := contract.EnvFrom(ctx)
				if !ok {
					return events.APIGatewayProxyResponse{}, errors.New("no env")
				}
				var body struct {
					BlobID string `json:"blob_id"`
				}
				if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
					return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
				}
				if err := rt.Table().Put(Item{"blob_id": body.BlobID, "status": "pending", "bucket": env.BucketName()}); err != nil {
					return events.APIGatewayProxyResponse{}, err
				}
				return events.APIGatewayProxyResponse{StatusCode: http.StatusCreated, Body: `{"blob_id":"` + body.BlobID + `"}`}, nil
			},
			topology.GetBlob: func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
				item, ok := rt.Table().Get(req.PathParameters["blob_id"])
				if !ok {
					return events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound}, nil
				}
				data, err := json.Marshal(item)
				if err != nil {
					return events.APIGatewayProxyResponse{}, err
				}
				return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: string(data)}, nil
			},
		},
		Object: map[string]contract.ObjectCreatedHandler{
			topology.ProcessBlob: func(ctx context.Context, event events.S3Event) error {
				env, _ := contract.EnvFrom(ctx)
				for _, record := range event.Records {
					if record.S3.Bucket.Name != env.BucketName() {
						return errors.New("unexpected bucket " + record.S3.Bucket.Name)
					}
					key := record.S3.Object.URLDecodedKey
					if err := rt.Table().Update(key, func(item Item) error {
						item["status"] = "processed"
						item["size"] = record.S3.Object.Size
						return nil
					}); err != nil {
						return err
					}
				}
				return nil
			},
		},
		Stream: map[string]contract.StreamHandler{topology.MakeCallback: calls.handle},
	}

	rt, err := New(testTopology(), handlers, Options{})
	require.NoError(t, err)
	defer rt.Close()

	req := httptest.NewRequest(http.MethodPost, "/blobs", strings.NewReader(`{"blob_id":"b1"}`))
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"blob_id":"b1"}`, rec.Body.String())

	require.NoError(t, rt.Bucket().Put("b1", []byte("image bytes")))
	waitIdle(t, rt)

	rec = httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prod/blobs/b1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var item map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "processed", item["status"])
	assert.Equal(t, "svc-blobs-bucket", item["bucket"])

	records := calls.snapshot()
	require.Len(t, records, 1, "only the MODIFY reaches make_callback")
	assert.Equal(t, EventModify, records[0].EventName)
	assert.Equal(t, "pending", records[0].Change.OldImage["status"].String())
	assert.Equal(t, "processed", records[0].Change.NewImage["status"].String())
	assert.Equal(t, "11", records[0].Change.NewImage["size"].Number())
	assert.Empty(t, rt.Failures())
}

func TestRuntime_StreamFiltersModify(t *testing.T) {
	calls := &recorder{}
	rt, err := New(testTopology(), baseHandlers(calls.handle), Options{})
	require.NoError(t, err)
	defer rt.Close()

	table := rt.Table()
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "pending"}))
	require.NoError(t, table.Update("a", func(item Item) error {
		item["status"] = "done"
		return nil
	}))
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "again"}))
	table.Delete("a")
	waitIdle(t, rt)

	records := calls.snapshot()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, EventModify, r.EventName)
	}
	assert.Equal(t, []int{1, 1}, calls.batches)
	assert.Len(t, table.Records(), 4)
}

func TestRuntime_StreamSkipsUnchangedWrites(t *testing.T) {
	calls := &recorder{}
	rt, err := New(testTopology(), baseHandlers(calls.handle), Options{})
	require.NoError(t, err)
	defer rt.Close()

	table := rt.Table()
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "pending", "size": 3}))
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "pending", "size": int64(3)}))
	require.NoError(t, table.Update("a", func(item Item) error {
		item["status"] = "pending"
		return nil
	}))
	waitIdle(t, rt)

	assert.Equal(t, 0, rt.Invocations(topology.MakeCallback))
	assert.Empty(t, calls.snapshot())
	require.Len(t, table.Records(), 1)
	assert.Equal(t, EventInsert, table.Records()[0].EventName)
}

func TestRuntime_StreamPerKeyOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	handler := func(_ context.Context, event events.DynamoDBEvent) error {
		for _, r := range event.Records {
			n, err := strconv.Atoi(r.Change.NewImage["n"].Number())
			if err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			key := r.Change.Keys["blob_id"].String()
			seen[key] = append(seen[key], n)
			mu.Unlock()
		}
		return nil
	}

	rt, err := New(testTopology(), baseHandlers(handler), Options{})
	require.NoError(t, err)
	defer rt.Close()

	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		require.NoError(t, rt.Table().Put(Item{"blob_id": k, "n": 0}))
	}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				assert.NoError(t, rt.Table().Update(k, func(item Item) error {
					item["n"] = i
					return nil
				}))
			}
		}(k)
	}
	wg.Wait()
	waitIdle(t, rt)

	for _, k := range keys {
		require.Len(t, seen[k], 20, k)
		for i, n := range seen[k] {
			assert.Equal(t, i+1, n, "key %s out of order", k)
		}
	}
}

func TestRuntime_StreamRetries(t *testing.T) {
	var mu sync.Mutex
	failures := map[string]int{}
	delivered := []string{}
	handler := func(_ context.Context, event events.DynamoDBEvent) error {
		mu.Lock()
		defer mu.Unlock()
		status := event.Records[0].Change.NewImage["status"].String()
		switch status {
		case "flaky":
			if failures[status] < 2 {
				failures[status]++
				return errors.New("temporary")
			}
		case "broken":
			return errors.New("permanent")
		}
		delivered = append(delivered, status)
		return nil
	}

	rt, err := New(testTopology(), baseHandlers(handler), Options{MaxAttempts: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	defer rt.Close()

	table := rt.Table()
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "new"}))
	for _, status := range []string{"flaky", "broken", "after"} {
		status := status
		require.NoError(t, table.Update("a", func(item Item) error {
			item["status"] = status
			return nil
		}))
	}
	waitIdle(t, rt)

	assert.Equal(t, []string{"flaky", "after"}, delivered)
	assert.Equal(t, 3+3+1, rt.Invocations(topology.MakeCallback))

	failed := rt.Failures()
	require.Len(t, failed, 1)
	assert.Equal(t, topology.MakeCallback, failed[0].Function)
	assert.Equal(t, topology.KindStream, failed[0].Kind)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.EqualError(t, failed[0].Err, "permanent")
}

func TestRuntime_ObjectRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	handlers := baseHandlers((&recorder{}).handle)
	handlers.Object[topology.ProcessBlob] = func(ctx context.Context, event events.S3Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("cold start")
		}
		env, _ := contract.EnvFrom(ctx)
		if env.TableName() != "svc-blobs" || env.BucketName() != "svc-blobs-bucket" {
			return errors.New("missing bindings")
		}
		if event.Records[0].S3.Object.Key != "a+b" {
			return errors.New("key not encoded")
		}
		return nil
	}

	rt, err := New(testTopology(), handlers, Options{RetryDelay: time.Millisecond})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Bucket().Put("a b", []byte("x")))
	waitIdle(t, rt)

	assert.Equal(t, 2, attempts)
	assert.Empty(t, rt.Failures())
	data, ok := rt.Bucket().Get("a b")
	require.True(t, ok)
	assert.Equal(t, []byte("x"), data)
}

func TestRuntime_Gateway(t *testing.T) {
	handlers := baseHandlers((&recorder{}).handle)
	handlers.API[topology.GetBlob] = func(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		if req.PathParameters["blob_id"] == "boom" {
			return events.APIGatewayProxyResponse{}, errors.New("boom")
		}
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"X-Blob": req.PathParameters["blob_id"]},
			Body:       req.RequestContext.Stage + " " + req.Resource + " " + req.QueryStringParameters["v"],
		}, nil
	}

	rt, err := New(testTopology(), handlers, Options{})
	require.NoError(t, err)
	defer rt.Close()

	tests := []struct {
		name    string
		method  string
		path    string
		status  int
		body    string
		message string
	}{
		{name: "path parameter", method: http.MethodGet, path: "/blobs/b1?v=2", status: http.StatusOK, body: "prod /blobs/{blob_id} 2"},
		{name: "stage prefix", method: http.MethodGet, path: "/prod/blobs/b1", status: http.StatusOK, body: "prod /blobs/{blob_id} "},
		{name: "handler error", method: http.MethodGet, path: "/blobs/boom", status: http.StatusBadGateway, message: "Internal server error"},
		{name: "unknown route", method: http.MethodGet, path: "/other", status: http.StatusForbidden, message: "Missing Authentication Token"},
		{name: "wrong method", method: http.MethodDelete, path: "/blobs", status: http.StatusForbidden, message: "Missing Authentication Token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rt.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				var msg gatewayMessage
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
				assert.Equal(t, tt.message, msg.Message)
				return
			}
			assert.Equal(t, tt.body, rec.Body.String())
			assert.Equal(t, "b1", rec.Header().Get("X-Blob"))
		})
	}
}

func TestNew_HandlerChecks(t *testing.T) {
	_, err := New(testTopology(), Handlers{
		API:    map[string]contract.APIHandler{topology.CreateBlob: ok, "delete_blob": ok},
		Object: map[string]contract.ObjectCreatedHandler{topology.ProcessBlob: noopObject},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function get_blob: no http handler")
	assert.Contains(t, err.Error(), "function make_callback: no stream handler")
	assert.Contains(t, err.Error(), "delete_blob")
}

func TestNew_InvalidTopology(t *testing.T) {
	topo := testTopology()
	topo.Service = ""
	_, err := New(topo, baseHandlers((&recorder{}).handle), Options{})
	assert.ErrorContains(t, err, "invalid topology")
}

func TestRuntime_Env(t *testing.T) {
	rt, err := New(testTopology(), baseHandlers((&recorder{}).handle), Options{})
	require.NoError(t, err)
	defer rt.Close()

	env, err := rt.Env(topology.GetBlob)
	require.NoError(t, err)
	assert.Equal(t, []contract.Binding{contract.TableName}, env.Bindings())

	_, err = rt.Env("nope")
	assert.ErrorIs(t, err, topology.ErrUnknownFunction)
}

func TestTable_Subscribe(t *testing.T) {
	table := newTable("svc-blobs", "blob_id", "local")
	require.NoError(t, table.Put(Item{"blob_id": "a"}))

	var latest, horizon []string
	table.subscribe(false, func(r events.DynamoDBEventRecord) { latest = append(latest, r.EventName) })
	table.subscribe(true, func(r events.DynamoDBEventRecord) { horizon = append(horizon, r.EventName) })

	require.NoError(t, table.Update("a", func(item Item) error {
		item["status"] = "x"
		return nil
	}))

	assert.Equal(t, []string{EventModify}, latest)
	assert.Equal(t, []string{EventInsert, EventModify}, horizon)
}

func TestTable_UpdateCallbackReadsTable(t *testing.T) {
	table := newTable("svc-blobs", "blob_id", "local")
	require.NoError(t, table.Put(Item{"blob_id": "a", "status": "pending"}))
	require.NoError(t, table.Put(Item{"blob_id": "b", "status": "done"}))

	done := make(chan error, 1)
	go func() {
		done <- table.Update("a", func(item Item) error {
			other, ok := table.Get("b")
			if !ok {
				return ErrItemNotFound
			}
			item["status"] = other["status"]
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("update did not return")
	}
	item, _ := table.Get("a")
	assert.Equal(t, "done", item["status"])
}

func TestTable_UpdateRetriesOnConcurrentWrite(t *testing.T) {
	table := newTable("svc-blobs", "blob_id", "local")
	require.NoError(t, table.Put(Item{"blob_id": "a", "n": 1}))

	runs := 0
	require.NoError(t, table.Update("a", func(item Item) error {
		runs++
		if runs == 1 {
			require.NoError(t, table.Put(Item{"blob_id": "a", "n": 5}))
		}
		item["n"] = item["n"].(int) + 1
		return nil
	}))

	assert.Equal(t, 2, runs)
	item, _ := table.Get("a")
	assert.Equal(t, 6, item["n"])
	assert.Len(t, table.Records(), 3)
}

func TestTable_Errors(t *testing.T) {
	table := newTable("svc-blobs", "blob_id", "local")

	assert.Error(t, table.Put(Item{"status": "x"}))
	assert.Error(t, table.Put(Item{"blob_id": 7}))
	assert.ErrorIs(t, table.Update("missing", func(Item) error { return nil }), ErrItemNotFound)

	require.NoError(t, table.Put(Item{"blob_id": "a", "tags": []any{"x"}}))
	err := table.Update("a", func(item Item) error {
		item["blob_id"] = "b"
		return nil
	})
	assert.Error(t, err)

	item, ok := table.Get("a")
	require.True(t, ok)
	item["tags"].([]any)[0] = "mutated"
	again, _ := table.Get("a")
	assert.Equal(t, []any{"x"}, again["tags"])
}

func TestAttribute(t *testing.T) {
	assert.Equal(t, events.DataTypeNull, attribute(nil).DataType())
	assert.Equal(t, "42", attribute(42).Number())
	assert.Equal(t, "1.5", attribute(1.5).Number())
	assert.Equal(t, "-7", attribute(int32(-7)).Number())
	assert.Equal(t, "7", attribute(uint(7)).Number())
	assert.Equal(t, "255", attribute(uint8(255)).Number())
	assert.Equal(t, "18446744073709551615", attribute(uint64(18446744073709551615)).Number())
	assert.Equal(t, "0.25", attribute(float32(0.25)).Number())
	assert.Equal(t, events.DataTypeNumber, attribute(int16(3)).DataType())
	assert.True(t, attribute(true).Boolean())
	assert.Equal(t, []string{"a", "b"}, attribute([]string{"a", "b"}).StringSet())
	assert.Len(t, attribute([]any{"a", 1}).List(), 2)
	assert.Equal(t, "v", attribute(map[string]any{"k": "v"}).Map()["k"].String())
}
