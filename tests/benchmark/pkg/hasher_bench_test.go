package benchmark

import (
	"fmt"
	"testing"

	"github.com/golemcloud/golemrt/pkg/cache"
)

func BenchmarkPayloadHash(b *testing.B) {
	sizes := []int{64, 256, 1024, 4096, 16384, 65536}

	for _, size := range sizes {
		data := make([]byte, size)
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				cache.PayloadHash(data)
			}
		})
	}
}

func BenchmarkQuickHash(b *testing.B) {
	sizes := []int{64, 256, 1024, 4096, 16384}

	for _, size := range sizes {
		data := make([]byte, size)
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				cache.QuickHash(data)
			}
		})
	}
}

func BenchmarkShortHash(b *testing.B) {
	data := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.ShortHash(data)
	}
}

func BenchmarkBuildPayloadKey(b *testing.B) {
	componentID := "01963b7a-6e2f-7c3a-9c2e-1234567890ab"
	payloadHash := "abc123def456"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.BuildPayloadKey(componentID, payloadHash)
	}
}
