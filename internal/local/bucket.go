package local

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Bucket is an in-memory content store. Every Put emits an ObjectCreated:Put
// notification.
type Bucket struct {
	name   string
	region string

	mu      sync.RWMutex
	objects map[string][]byte
	seq     uint64
	notify  func(events.S3EventRecord)
}

func newBucket(name, region string) *Bucket {
	return &Bucket{name: name, region: region, objects: make(map[string][]byte)}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Put stores data under key.
func (b *Bucket) Put(key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("bucket %s: empty object key", b.name)
	}
	copied := append([]byte(nil), data...)

	b.mu.Lock()
	b.objects[key] = copied
	b.seq++
	record := b.record(key, copied, b.seq)
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(record)
	}
	return nil
}

// Get returns a copy of the object stored under key.
func (b *Bucket) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Delete removes an object. Deletions are not notified.
func (b *Bucket) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
}

// Keys returns the stored keys in order.
func (b *Bucket) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bucket) subscribe(fn func(events.S3EventRecord)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

func (b *Bucket) record(key string, data []byte, seq uint64) events.S3EventRecord {
	sum := md5.Sum(data)
	return events.S3EventRecord{
		EventVersion: "2.1",
		EventSource:  "aws:s3",
		AWSRegion:    b.region,
		EventTime:    time.Now().UTC(),
		EventName:    "ObjectCreated:Put",
		S3: events.S3Entity{
			SchemaVersion: "1.0",
			Bucket: events.S3Bucket{
				Name: b.name,
				Arn:  "arn:aws:s3:::" + b.name,
			},
			Object: events.S3Object{
				Key:           url.QueryEscape(key),
				URLDecodedKey: key,
				Size:          int64(len(data)),
				ETag:          hex.EncodeToString(sum[:]),
				Sequencer:     fmt.Sprintf("%016X", seq),
			},
		},
	}
}
