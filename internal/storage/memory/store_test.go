package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/storage"
	"freemail/backend/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return NewStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	m := storagetest.NewMessage("t1", nil, "copy", storagetest.NewUser("x@example.com").CreatedAt)
	require.NoError(t, s.CreateMessage(ctx, m, nil))

	got, err := s.GetMessage(ctx, "t1", m.ID)
	require.NoError(t, err)
	got.Subject = "mutated"
	got.Recipients[0] = "mutated@example.com"

	again, err := s.GetMessage(ctx, "t1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "copy", again.Subject)
	assert.Equal(t, "alice@tenant1.example", again.Recipients[0])
}

func TestMemoryStore_ConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	winners := make([]string, 20)
	for i := range winners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := s.ClaimThreadKey(ctx, "same-key", string(rune('a'+i)))
			assert.NoError(t, err)
			winners[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		assert.Equal(t, winners[0], w)
	}
}
