package storage

import "testing"

func TestMemStoreConformance(t *testing.T) {
	runConformanceSuite(t, func(t *testing.T) Store {
		return NewMemStore()
	})
}
