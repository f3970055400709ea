package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/testutil/dynamofake"
)

func TestMethodStore_ListByUserNewestFirst(t *testing.T) {
	db := dynamofake.NewStorefront()
	store := NewMethodStore(db, dynamofake.PaymentMethodsTable)
	ctx := context.Background()

	// "10:00:01Z" sorts after "10:00:01.5Z" as text; order comes from the time itself
	base := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)
	saves := []struct {
		user string
		at   time.Time
		last string
	}{
		{"u1", base, "1111"},
		{"u1", base.Add(500 * time.Millisecond), "2222"},
		{"u2", base.Add(time.Second), "9999"},
		{"u1", base.Add(-time.Hour), "0000"},
	}
	for _, s := range saves {
		at := s.at
		store.nowFunc = func() time.Time { return at }
		_, err := store.SaveFromSnapshot(ctx, s.user, &Snapshot{CardLastFour: s.last, CardBrand: "visa"})
		require.NoError(t, err)
	}

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"2222", "1111", "0000"}, []string{list[0].LastFour, list[1].LastFour, list[2].LastFour})

	none, err := store.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMethodStore_SkipsChargesWithoutCard(t *testing.T) {
	store := NewMethodStore(dynamofake.NewStorefront(), dynamofake.PaymentMethodsTable)
	m, err := store.SaveFromSnapshot(context.Background(), "u1", &Snapshot{ID: "pix-1", PaymentMethodID: "pix"})
	require.NoError(t, err)
	assert.Nil(t, m)
}
