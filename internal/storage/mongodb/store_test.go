package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/internal/storage/storagetest"
)

// TestStore runs against a live server named by CUSTOMS_TEST_MONGODB_URI.
// Each subtest gets its own database.
func TestStore(t *testing.T) {
	uri := os.Getenv("CUSTOMS_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("CUSTOMS_TEST_MONGODB_URI not set")
	}

	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n++
		s, err := NewStore(ctx, &Config{URI: uri, Database: fmt.Sprintf("customs_test_%d_%d", time.Now().UnixNano(), n)})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.db.Drop(context.Background())
			_ = s.Close(context.Background())
		})
		return s
	})
}
