package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
	"github.com/timigod/midas/internal/storage/memory"
)

const testQueue = "token_processing"

type stubFeed struct {
	candidates []domain.Candidate
	err        error
}

func (f *stubFeed) Search(context.Context) ([]domain.Candidate, error) {
	return f.candidates, f.err
}

func f64(v float64) *float64 { return &v }

func candidate(address string, marketCap, liquidity float64) domain.Candidate {
	return domain.Candidate{
		Address:   address,
		MarketCap: f64(marketCap),
		Liquidity: f64(liquidity),
	}
}

type env struct {
	tokens  *memory.TokenStore
	history *memory.HistoryStore
	queue   *memory.QueueStore
}

func newPipeline(feed Feed) (*Pipeline, *env) {
	e := &env{
		tokens:  memory.NewTokenStore(),
		history: memory.NewHistoryStore(),
		queue:   memory.NewQueueStore(),
	}
	p := New(e.tokens, e.history, e.queue, feed, DefaultConfig(testQueue), zerolog.Nop())
	return p, e
}

func TestRun_AdmitsAndEnqueues(t *testing.T) {
	c := candidate("addr1", 100_000, 4_000) // ratio 0.04 >= 0.03
	c.BuyVolume = f64(5_000)
	c.SellVolume = f64(2_000)
	p, e := newPipeline(&stubFeed{candidates: []domain.Candidate{c}})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discovered)
	assert.Equal(t, 1, summary.Queued)
	assert.Zero(t, summary.Rejected)

	tok, err := e.tokens.Get(context.Background(), "addr1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, tok.Status)
	assert.Equal(t, 100_000.0, tok.StartMarketCap)
	assert.Equal(t, tok.StartMarketCap, tok.CurrentMarketCap)
	assert.Equal(t, 5_000.0, tok.CumulativeBuyVolume)
	assert.Equal(t, 3_000.0, tok.CumulativeNetVolume)
	assert.WithinDuration(t, time.Now().Add(6*time.Hour), tok.DeadlineAt, time.Minute)

	records, err := e.history.GetByAddress(context.Background(), "addr1")
	require.NoError(t, err)
	assert.Len(t, records, 1, "initial history record")

	addrs, err := e.queue.PendingAddresses(context.Background(), testQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{"addr1"}, addrs)
}

func TestRun_RejectsThinLiquidity(t *testing.T) {
	// ratio 0.02 < 0.03: never written to the entity store
	p, e := newPipeline(&stubFeed{candidates: []domain.Candidate{
		candidate("addr1", 100_000, 2_000),
	}})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rejected)
	assert.Zero(t, summary.Queued)

	_, err = e.tokens.Get(context.Background(), "addr1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	depth, _ := e.queue.Depth(context.Background(), testQueue)
	assert.Zero(t, depth)
}

func TestRun_IdempotentPerAddress(t *testing.T) {
	feed := &stubFeed{candidates: []domain.Candidate{
		candidate("addr1", 100_000, 4_000),
	}}
	p, e := newPipeline(feed)
	ctx := context.Background()

	_, err := p.Run(ctx)
	require.NoError(t, err)

	// Second discovery of the same address is a no-op, even after the
	// token left the active state.
	require.NoError(t, e.tokens.Promote(ctx, "addr1", time.Now()))
	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Known)
	assert.Zero(t, summary.Queued)

	records, _ := e.history.GetByAddress(ctx, "addr1")
	assert.Len(t, records, 1, "no duplicate seed history")
	depth, _ := e.queue.Depth(ctx, testQueue)
	assert.Equal(t, 1, depth, "no duplicate queue message")
}

func TestRun_MissingVolumesSeedZero(t *testing.T) {
	p, e := newPipeline(&stubFeed{candidates: []domain.Candidate{
		candidate("addr1", 100_000, 4_000), // no volume figures at all
	}})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	tok, err := e.tokens.Get(context.Background(), "addr1")
	require.NoError(t, err)
	assert.Zero(t, tok.CumulativeBuyVolume)
	assert.Zero(t, tok.CumulativeNetVolume)
}

func TestRun_MalformedCandidatesRejected(t *testing.T) {
	p, _ := newPipeline(&stubFeed{candidates: []domain.Candidate{
		{Address: "no-figures"},
		{Address: "", MarketCap: f64(1), Liquidity: f64(1)},
	}})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rejected)
}

func TestRun_FeedErrorAbortsCycle(t *testing.T) {
	p, _ := newPipeline(&stubFeed{err: errors.New("upstream down")})
	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

// failingQueue fails every enqueue, to exercise the permanent-failure path.
type failingQueue struct {
	*memory.QueueStore
}

func (q *failingQueue) Enqueue(context.Context, string, domain.TaskPayload) (string, error) {
	return "", errors.New("queue unavailable")
}

func TestRun_EnqueueFailureLeavesTokenForSweep(t *testing.T) {
	tokens := memory.NewTokenStore()
	history := memory.NewHistoryStore()
	queue := &failingQueue{memory.NewQueueStore()}

	cfg := DefaultConfig(testQueue)
	cfg.EnqueueAttempts = 2
	cfg.EnqueueBaseDelay = time.Millisecond
	p := New(tokens, history, queue, &stubFeed{candidates: []domain.Candidate{
		candidate("addr1", 100_000, 4_000),
	}}, cfg, zerolog.Nop())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// Entity row survives so the starvation sweep can repair the queue.
	_, err = tokens.Get(context.Background(), "addr1")
	assert.NoError(t, err)
}
