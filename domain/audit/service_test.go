package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMemoryRecorder(t *testing.T) {
	rec := &MemoryRecorder{}
	tenant := uuid.New()

	rec.Record(context.Background(), Entry{TenantID: tenant, Action: ActionNodeCreated, EntityType: EntityNode})
	rec.Record(context.Background(), Entry{TenantID: tenant, Action: ActionQueryExecuted, EntityType: EntityGraph})
	rec.Record(context.Background(), Entry{TenantID: tenant, Action: ActionNodeCreated, EntityType: EntityNode})

	assert.Len(t, rec.Entries(), 3)
	assert.Len(t, rec.ByAction(ActionNodeCreated), 2)
	assert.Empty(t, rec.ByAction(ActionNodeDeleted))
	for _, e := range rec.Entries() {
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestMemoryRecorder_Concurrent(t *testing.T) {
	rec := &MemoryRecorder{}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), Entry{Action: ActionPathFound})
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Entries(), 20)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{Action: ActionNodeCreated})
	})
}
