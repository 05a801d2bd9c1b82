// Package local runs the blob wiring graph in process. It stands in for the
// gateway, the content bucket with its object-created notification and the record
// table with its filtered change stream, and invokes handler functions the way the
// deployed event sources would:
//
//   - gateway routes invoke synchronously and map handler errors to 502
//   - object creation invokes asynchronously, unordered, with bounded retries
//   - stream records are filtered, delivered in per-key order with concurrency
//     across keys, and retried in place until the attempts run out
//
// Handlers receive their bindings through contract.WithEnv instead of process
// environment variables.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"

	"github.com/lex00/blobstack-go/contract"
	"github.com/lex00/blobstack-go/internal/filter"
	"github.com/lex00/blobstack-go/internal/logging"
	"github.com/lex00/blobstack-go/internal/topology"
)

const (
	defaultRegion      = "local"
	defaultMaxAttempts = 3
	defaultRetryDelay  = 10 * time.Millisecond
)

// Handlers are the function implementations, keyed by function ID.
type Handlers struct {
	API    map[string]contract.APIHandler
	Object map[string]contract.ObjectCreatedHandler
	Stream map[string]contract.StreamHandler
}

// Options configures a Runtime.
type Options struct {
	Region string
	// MaxAttempts bounds asynchronous and stream invocations of one event.
	MaxAttempts int
	RetryDelay  time.Duration
	Log         logging.Log
}

// Failure is an event that exhausted its attempts.
type Failure struct {
	Function string
	Kind     topology.TriggerKind
	Attempts int
	Err      error
}

// Runtime is a running in-process instance of a topology.
type Runtime struct {
	topo     *topology.Topology
	handlers Handlers
	opts     Options
	log      logging.Log

	bucket *Bucket
	table  *Table
	router chi.Router

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu          sync.Mutex
	failures    []Failure
	invocations map[string]int
}

// New validates topo, checks that every trigger has a handler of the matching kind
// and wires the event sources.
func New(topo *topology.Topology, handlers Handlers, opts Options) (*Runtime, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	if err := checkHandlers(topo, handlers); err != nil {
		return nil, err
	}
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Log == nil {
		opts.Log = logging.NewNoOpLog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		topo:        topo,
		handlers:    handlers,
		opts:        opts,
		log:         opts.Log,
		bucket:      newBucket(topo.Bucket.Name, opts.Region),
		table:       newTable(topo.Table.Name, topo.Table.PartitionKey, opts.Region),
		ctx:         ctx,
		cancel:      cancel,
		invocations: make(map[string]int),
	}

	if fn := topo.ObjectSubscriber(); fn != nil {
		r.bucket.subscribe(r.objectDispatcher(fn, handlers.Object[fn.ID]))
	}
	for _, sub := range topo.StreamSubscribers() {
		consumer, err := newStreamConsumer(r, sub, handlers.Stream[sub.Function.ID])
		if err != nil {
			cancel()
			return nil, err
		}
		r.table.subscribe(sub.Events.StartingPosition == topology.StartTrimHorizon, consumer.enqueue)
	}
	r.router = r.routes()
	return r, nil
}

// Bucket returns the content bucket.
func (r *Runtime) Bucket() *Bucket { return r.bucket }

// Table returns the record table.
func (r *Runtime) Table() *Table { return r.table }

// Env returns the bindings a function receives.
func (r *Runtime) Env(functionID string) (contract.Env, error) {
	fn, err := r.topo.Function(functionID)
	if err != nil {
		return contract.Env{}, err
	}
	return r.topo.Env(fn), nil
}

// Wait blocks until every asynchronous and stream delivery, including deliveries
// caused by other deliveries, has finished.
func (r *Runtime) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops retries and waits for running deliveries to return.
func (r *Runtime) Close() {
	r.cancel()
	r.pending.Wait()
}

// Failures returns the events that exhausted their attempts.
func (r *Runtime) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Invocations returns how many times a function was invoked, retries included.
func (r *Runtime) Invocations(functionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invocations[functionID]
}

// invoke calls fn's handler through call, retrying up to attempts times.
func (r *Runtime) invoke(fn *topology.Function, kind topology.TriggerKind, attempts int, call func(ctx context.Context) error) error {
	log := r.log.WithFields(logging.Fields{"function": fn.ID, "trigger": kind})
	ctx := contract.WithEnv(r.ctx, r.topo.Env(fn))

	var err error
	attempt := 0
	for attempt < attempts {
		if cerr := r.ctx.Err(); cerr != nil {
			err = cerr
			break
		}
		attempt++
		r.mu.Lock()
		r.invocations[fn.ID]++
		r.mu.Unlock()

		if err = call(ctx); err == nil {
			return nil
		}
		log.WithField("attempt", attempt).Warnf("Invocation failed: %v", err)
		if attempt < attempts {
			select {
			case <-time.After(r.opts.RetryDelay * time.Duration(attempt)):
			case <-r.ctx.Done():
			}
		}
	}

	if kind != topology.KindHTTP {
		r.mu.Lock()
		r.failures = append(r.failures, Failure{Function: fn.ID, Kind: kind, Attempts: attempt, Err: err})
		r.mu.Unlock()
		log.Errorf("Dropping event after %d attempts: %v", attempt, err)
	}
	return err
}

func (r *Runtime) objectDispatcher(fn *topology.Function, handler contract.ObjectCreatedHandler) func(events.S3EventRecord) {
	return func(record events.S3EventRecord) {
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			event := events.S3Event{Records: []events.S3EventRecord{record}}
			_ = r.invoke(fn, topology.KindObject, r.opts.MaxAttempts, func(ctx context.Context) error {
				return handler(ctx, event)
			})
		}()
	}
}

// streamConsumer delivers table stream records to one function. Each key has its
// own queue drained by at most one goroutine.
type streamConsumer struct {
	r         *Runtime
	fn        *topology.Function
	handler   contract.StreamHandler
	pattern   *filter.Pattern
	batchSize int

	mu     sync.Mutex
	queues map[string][]events.DynamoDBEventRecord
}

func newStreamConsumer(r *Runtime, sub topology.StreamSubscription, handler contract.StreamHandler) (*streamConsumer, error) {
	c := &streamConsumer{
		r:         r,
		fn:        sub.Function,
		handler:   handler,
		batchSize: sub.Events.BatchSize,
		queues:    make(map[string][]events.DynamoDBEventRecord),
	}
	if pattern := sub.Events.Pattern(); pattern != "" {
		p, err := filter.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", sub.Function.ID, err)
		}
		c.pattern = p
	}
	if c.batchSize <= 0 {
		c.batchSize = 1
	}
	return c, nil
}

func (c *streamConsumer) enqueue(record events.DynamoDBEventRecord) {
	if c.pattern != nil {
		ok, err := c.pattern.MatchEvent(record)
		if err != nil || !ok {
			return
		}
	}

	key := recordKey(record)
	c.r.pending.Add(1)
	c.mu.Lock()
	queue, active := c.queues[key]
	c.queues[key] = append(queue, record)
	c.mu.Unlock()
	if !active {
		go c.drain(key)
	}
}

func (c *streamConsumer) drain(key string) {
	for {
		c.mu.Lock()
		queue := c.queues[key]
		if len(queue) == 0 {
			delete(c.queues, key)
			c.mu.Unlock()
			return
		}
		n := len(queue)
		if n > c.batchSize {
			n = c.batchSize
		}
		batch := append([]events.DynamoDBEventRecord(nil), queue[:n]...)
		c.queues[key] = queue[n:]
		c.mu.Unlock()

		event := events.DynamoDBEvent{Records: batch}
		_ = c.r.invoke(c.fn, topology.KindStream, c.r.opts.MaxAttempts, func(ctx context.Context) error {
			return c.handler(ctx, event)
		})
		for range batch {
			c.r.pending.Done()
		}
	}
}

func recordKey(record events.DynamoDBEventRecord) string {
	names := make([]string, 0, len(record.Change.Keys))
	for name := range record.Change.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	key := ""
	for _, name := range names {
		av := record.Change.Keys[name]
		if av.DataType() == events.DataTypeString {
			key += name + "=" + av.String() + ";"
		} else {
			key += name + "=" + fmt.Sprint(av) + ";"
		}
	}
	return key
}

func checkHandlers(topo *topology.Topology, handlers Handlers) error {
	var result *multierror.Error
	known := make(map[string]bool, len(topo.Functions))
	for _, fn := range topo.Functions {
		known[fn.ID] = true
		for _, trigger := range fn.Triggers {
			var ok bool
			switch trigger.Kind() {
			case topology.KindHTTP:
				ok = handlers.API[fn.ID] != nil
			case topology.KindObject:
				ok = handlers.Object[fn.ID] != nil
			case topology.KindStream:
				ok = handlers.Stream[fn.ID] != nil
			}
			if !ok {
				result = multierror.Append(result, fmt.Errorf("function %s: no %s handler", fn.ID, trigger.Kind()))
			}
		}
	}

	extra := func(kind topology.TriggerKind, id string) {
		if !known[id] {
			result = multierror.Append(result, fmt.Errorf("%s handler for %s: %w", kind, id, topology.ErrUnknownFunction))
		}
	}
	for id := range handlers.API {
		extra(topology.KindHTTP, id)
	}
	for id := range handlers.Object {
		extra(topology.KindObject, id)
	}
	for id := range handlers.Stream {
		extra(topology.KindStream, id)
	}
	return result.ErrorOrNil()
}
