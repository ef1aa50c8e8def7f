package storage_test

import (
	"testing"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/internal/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemory()
	})
}
