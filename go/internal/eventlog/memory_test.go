package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

func newOrderEvent(orderID uuid.UUID) models.NewDomainEvent {
	return models.NewDomainEvent{
		EventType:   models.DomainEventOrderCompleted,
		DisplayText: "Order completed",
		MainTable:   models.TableOrders,
		MainID:      &orderID,
	}
}

func TestMemoryStore_ConcurrentAppendsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(clockwork.NewFakeClock())

	const writers, perWriter = 8, 50
	seqs := make(chan int64, writers*perWriter)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			for i := 0; i < perWriter; i++ {
				ev, err := store.Append(ctx, newOrderEvent(uuid.New()))
				if !assert.NoError(t, err) {
					return
				}
				assert.Greater(t, ev.Sequence, last, "sequence observed by one writer must increase")
				last = ev.Sequence
				seqs <- ev.Sequence
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "sequence %d repeated", s)
		seen[s] = true
	}
	assert.Len(t, seen, writers*perWriter)

	all, err := store.FindAfterSequence(ctx, 0, writers*perWriter)
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Sequence, all[i].Sequence)
	}
}

func TestMemoryStore_ConcurrentClaimsPartitionRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(clockwork.NewFakeClock())

	const total = 200
	for i := 0; i < total; i++ {
		_, err := store.Append(ctx, newOrderEvent(uuid.New()))
		require.NoError(t, err)
	}

	const workers = 6
	var (
		mu     sync.Mutex
		owners = make(map[int64]int)
		claims []Claim
		wg     sync.WaitGroup
		start  = make(chan struct{})
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-start
			for {
				claim, err := store.Claim(ctx, 0, 7)
				if !assert.NoError(t, err) {
					return
				}
				events := claim.Events()
				if len(events) == 0 {
					return
				}
				mu.Lock()
				for _, e := range events {
					prev, dup := owners[e.Sequence]
					assert.False(t, dup, "seq %d claimed by workers %d and %d", e.Sequence, prev, worker)
					owners[e.Sequence] = worker
				}
				// hold the claim so the other workers have to skip these rows
				claims = append(claims, claim)
				mu.Unlock()
			}
		}(w)
	}
	close(start)
	wg.Wait()

	assert.Len(t, owners, total)
	for _, c := range claims {
		require.NoError(t, c.Commit())
	}
}

func TestMemoryStore_ClaimSkipsLockedAndReleases(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(clockwork.NewFakeClock())
	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, newOrderEvent(uuid.New()))
		require.NoError(t, err)
	}

	first, err := store.Claim(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first.Events(), 3)
	assert.Equal(t, int64(1), first.Events()[0].Sequence)

	second, err := store.Claim(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, second.Events(), 2)
	assert.Equal(t, int64(4), second.Events()[0].Sequence)

	none, err := store.Claim(ctx, 0, 3)
	require.NoError(t, err)
	assert.Empty(t, none.Events())

	require.NoError(t, first.Rollback())
	require.NoError(t, first.Rollback())

	again, err := store.Claim(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, again.Events(), 3)

	after, err := store.Claim(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, after.Events(), "seq 5 is still held by the second claim")
}

func TestMemoryStore_FindByMainEntity(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)

	transferID := uuid.New()
	started := models.NewDomainEvent{EventType: models.DomainEventTransferTicketStarted, MainTable: models.TableTransfers, MainID: &transferID}
	completed := models.NewDomainEvent{EventType: models.DomainEventTransferTicketCompleted, MainTable: models.TableTransfers, MainID: &transferID}

	_, err := store.Append(ctx, started)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = store.Append(ctx, newOrderEvent(transferID))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = store.Append(ctx, completed)
	require.NoError(t, err)

	all, err := store.FindByMainEntity(ctx, models.TableTransfers, &transferID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.DomainEventTransferTicketStarted, all[0].EventType)
	assert.Equal(t, models.DomainEventTransferTicketCompleted, all[1].EventType)

	completedType := models.DomainEventTransferTicketCompleted
	only, err := store.FindByMainEntity(ctx, models.TableTransfers, &transferID, &completedType)
	require.NoError(t, err)
	require.Len(t, only, 1)

	byID, err := store.FindByIDs(ctx, []uuid.UUID{all[1].ID, all[0].ID})
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, all[0].ID, byID[0].ID)

	lag, err := store.CountAfterSequence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lag)
}

func TestMemoryStore_AppendValidates(t *testing.T) {
	store := NewMemoryStore(nil)

	_, err := store.Append(context.Background(), models.NewDomainEvent{MainTable: models.TableOrders})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = store.Append(context.Background(), models.NewDomainEvent{EventType: models.DomainEventOrderRefund})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestMemoryCheckpoints_NeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	cp := NewMemoryCheckpoints()

	seq, err := cp.Load(ctx, "webhooks")
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, cp.Save(ctx, "webhooks", 10))
	require.NoError(t, cp.Save(ctx, "webhooks", 4))
	seq, err = cp.Load(ctx, "webhooks")
	require.NoError(t, err)
	assert.Equal(t, int64(10), seq)
}

func TestParseSequence(t *testing.T) {
	assert.Equal(t, int64(42), parseSequence("42"))
	assert.Equal(t, int64(0), parseSequence("not-a-number"))
}
