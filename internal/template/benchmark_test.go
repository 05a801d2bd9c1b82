package template

import (
	"fmt"
	"testing"

	"github.com/lex00/blobstack-go/intrinsics"
	"github.com/lex00/blobstack-go/resources/s3"
)

// BenchmarkBuild builds chains of buckets of increasing length.
func BenchmarkBuild(b *testing.B) {
	for _, size := range []int{10, 50, 200} {
		b.Run(fmt.Sprintf("resources_%d", size), func(b *testing.B) {
			builder := chain(b, size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := builder.Build(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkToJSON(b *testing.B) {
	builder := chain(b, 50)
	tmpl, err := builder.Build()
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ToJSON(tmpl); err != nil {
			b.Fatal(err)
		}
	}
}

func chain(b *testing.B, size int) *Builder {
	b.Helper()
	builder := NewBuilder("")
	for i := 0; i < size; i++ {
		bucket := s3.Bucket{BucketName: fmt.Sprintf("bucket-%d", i)}
		if i > 0 {
			bucket.Tags = []any{map[string]any{
				"Key":   "previous",
				"Value": intrinsics.Ref{LogicalName: fmt.Sprintf("Bucket%d", i-1)},
			}}
		}
		if err := builder.Add(fmt.Sprintf("Bucket%d", i), bucket); err != nil {
			b.Fatal(err)
		}
	}
	return builder
}
