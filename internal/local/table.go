package local

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
)

// ErrItemNotFound is returned when updating an item that does not exist.
var ErrItemNotFound = errors.New("item not found")

// Stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Item is a table item. Values are strings, Go integer and float types, booleans,
// nil, []byte, []string, []any and map[string]any.
type Item map[string]any

// Table is an in-memory record table with a change stream. Every change appends
// one record carrying the old and new images.
type Table struct {
	name      string
	key       string
	region    string
	streamArn string

	mu          sync.Mutex
	items       map[string]Item
	revs        map[string]uint64
	seq         uint64
	log         []events.DynamoDBEventRecord
	subscribers []func(events.DynamoDBEventRecord)
}

func newTable(name, partitionKey, region string) *Table {
	return &Table{
		name:      name,
		key:       partitionKey,
		region:    region,
		streamArn: fmt.Sprintf("arn:aws:dynamodb:%s:000000000000:table/%s/stream/%s", region, name, time.Now().UTC().Format("2006-01-02T15:04:05.000")),
		items:     make(map[string]Item),
		revs:      make(map[string]uint64),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// PartitionKey returns the partition key attribute name.
func (t *Table) PartitionKey() string {
	return t.key
}

// Put writes an item, replacing any item with the same key. Rewriting an item
// with identical attributes writes no stream record.
func (t *Table) Put(item Item) error {
	key, err := t.keyOf(item)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	old, existed := t.items[key]
	t.write(key, old, existed, cloneItem(item))
	return nil
}

// Update applies fn to a copy of the item under key and stores the result. fn
// runs without the table lock held, so it may read the table. If the item is
// written by someone else meanwhile, fn runs again on a fresh copy.
func (t *Table) Update(key string, fn func(Item) error) error {
	for {
		t.mu.Lock()
		old, ok := t.items[key]
		rev := t.revs[key]
		t.mu.Unlock()
		if !ok {
			return fmt.Errorf("table %s key %s: %w", t.name, key, ErrItemNotFound)
		}

		next := cloneItem(old)
		if err := fn(next); err != nil {
			return err
		}
		if k, _ := next[t.key].(string); k != key {
			return fmt.Errorf("table %s: update must not change %s", t.name, t.key)
		}

		t.mu.Lock()
		if _, ok := t.items[key]; ok && t.revs[key] == rev {
			t.write(key, old, true, next)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
	}
}

// write stores next under key and emits the matching stream record. Callers hold
// t.mu.
func (t *Table) write(key string, old Item, existed bool, next Item) {
	t.items[key] = next
	t.revs[key]++
	switch {
	case !existed:
		t.emit(EventInsert, key, nil, next)
	case reflect.DeepEqual(image(old), image(next)):
		// unchanged items write no stream record
	default:
		t.emit(EventModify, key, old, next)
	}
}

// Get returns a copy of the item under key.
func (t *Table) Get(key string) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return nil, false
	}
	return cloneItem(item), true
}

// Delete removes the item under key.
func (t *Table) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.items[key]
	if !ok {
		return
	}
	delete(t.items, key)
	t.revs[key]++
	t.emit(EventRemove, key, old, nil)
}

// Records returns every stream record written so far.
func (t *Table) Records() []events.DynamoDBEventRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]events.DynamoDBEventRecord(nil), t.log...)
}

// subscribe registers fn for stream records. With fromStart the records already
// in the stream are replayed first. fn is called in stream order with the table
// locked, so it must not call back into the table.
func (t *Table) subscribe(fromStart bool, fn func(events.DynamoDBEventRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fromStart {
		for _, record := range t.log {
			fn(record)
		}
	}
	t.subscribers = append(t.subscribers, fn)
}

func (t *Table) keyOf(item Item) (string, error) {
	v, ok := item[t.key]
	if !ok {
		return "", fmt.Errorf("table %s: item has no %s", t.name, t.key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("table %s: %s must be a non-empty string", t.name, t.key)
	}
	return s, nil
}

func (t *Table) emit(eventName, key string, old, next Item) {
	t.seq++
	change := events.DynamoDBStreamRecord{
		ApproximateCreationDateTime: events.SecondsEpochTime{Time: time.Now().UTC()},
		Keys:                        map[string]events.DynamoDBAttributeValue{t.key: events.NewStringAttribute(key)},
		SequenceNumber:              fmt.Sprintf("%021d", t.seq),
		StreamViewType:              "NEW_AND_OLD_IMAGES",
	}
	if old != nil {
		change.OldImage = image(old)
	}
	if next != nil {
		change.NewImage = image(next)
	}

	record := events.DynamoDBEventRecord{
		AWSRegion:      t.region,
		Change:         change,
		EventID:        uuid.NewString(),
		EventName:      eventName,
		EventSource:    "aws:dynamodb",
		EventVersion:   "1.1",
		EventSourceArn: t.streamArn,
	}
	t.log = append(t.log, record)
	for _, fn := range t.subscribers {
		fn(record)
	}
}

func image(item Item) map[string]events.DynamoDBAttributeValue {
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		out[k] = attribute(v)
	}
	return out
}

// attribute converts an item value to its stream representation.
func attribute(v any) events.DynamoDBAttributeValue {
	switch val := v.(type) {
	case nil:
		return events.NewNullAttribute()
	case string:
		return events.NewStringAttribute(val)
	case bool:
		return events.NewBooleanAttribute(val)
	case int:
		return events.NewNumberAttribute(strconv.Itoa(val))
	case int64:
		return events.NewNumberAttribute(strconv.FormatInt(val, 10))
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return events.NewNumberAttribute(fmt.Sprint(val))
	case float32:
		return events.NewNumberAttribute(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case float64:
		return events.NewNumberAttribute(strconv.FormatFloat(val, 'f', -1, 64))
	case []byte:
		return events.NewBinaryAttribute(val)
	case []string:
		return events.NewStringSetAttribute(val)
	case []any:
		list := make([]events.DynamoDBAttributeValue, len(val))
		for i, elem := range val {
			list[i] = attribute(elem)
		}
		return events.NewListAttribute(list)
	case map[string]any:
		return events.NewMapAttribute(image(val))
	case Item:
		return events.NewMapAttribute(image(val))
	default:
		return events.NewStringAttribute(fmt.Sprint(val))
	}
}

func cloneItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...)
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case Item:
		return cloneItem(val)
	default:
		return v
	}
}

// Keys returns the stored keys in order.
func (t *Table) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
