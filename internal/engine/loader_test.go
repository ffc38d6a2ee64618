package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/store"
)

func TestIDLoader_LoadPage(t *testing.T) {
	h := newHarness(t)
	h.addCustomers(t, 5)
	loader := NewIDLoader(h.store)
	ctx := context.Background()

	page, err := loader.LoadPage(ctx, customerType, "id", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].ID)

	after := "4"
	page, err = loader.LoadPage(ctx, customerType, "id", &after, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "5", page[0].ID)

	_, err = loader.LoadPage(ctx, customerType, "id", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestIDLoader_LoadAll(t *testing.T) {
	h := newHarness(t)
	h.addCustomers(t, 4)
	loader := NewIDLoader(h.store)

	ids, err := loader.LoadAll(context.Background(), customerType)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)

	_, err = loader.LoadAll(context.Background(), pairType)
	assert.ErrorIs(t, err, metadata.ErrNoOrderingKey)
}

var _ RecordSource = (*store.Store)(nil)
var _ SessionStore = (*store.Store)(nil)
var _ QueueStore = (*store.Store)(nil)
