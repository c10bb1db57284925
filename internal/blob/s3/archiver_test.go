package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

type memJournal struct {
	trades []domain.ClosedTrade
}

func (j *memJournal) Record(_ context.Context, t domain.ClosedTrade) error {
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) List(_ context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	var out []domain.ClosedTrade
	for _, t := range j.trades {
		if opts.Until != nil && t.ClosedAt.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (j *memJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.ClosedTrade
	var n int64
	for _, t := range j.trades {
		if t.ClosedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	j.trades = kept
	return n, nil
}

func TestArchiveTrades(t *testing.T) {
	cutoff := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	journal := &memJournal{trades: []domain.ClosedTrade{
		{ID: "a", Key: domain.PositionKey{Symbol: "BTC_USDT", Side: domain.SideLong}, ExitStatus: "TP", ClosedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "b", Key: domain.PositionKey{Symbol: "ETH_USDT", Side: domain.SideShort}, ExitStatus: "SL", ClosedAt: cutoff.Add(-time.Hour)},
		{ID: "c", Key: domain.PositionKey{Symbol: "SOL_USDT", Side: domain.SideLong}, ExitStatus: "TP", ClosedAt: cutoff.Add(time.Hour)},
	}}
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, w, journal, "")

	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := w.objects["archive/trades/2025-01/20250115T000000Z.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var tr domain.ClosedTrade
		require.NoError(t, sonic.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	require.Len(t, journal.trades, 1)
	assert.Equal(t, "c", journal.trades[0].ID)
}

func TestArchiveTradesNothingOld(t *testing.T) {
	journal := &memJournal{}
	w := &memWriter{objects: map[string][]byte{}}
	n, err := NewArchiver(w, w, journal, "/closed-trades/").ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveTradesKeepsJournalOnUploadError(t *testing.T) {
	journal := &memJournal{trades: []domain.ClosedTrade{{ID: "a", ClosedAt: time.Unix(0, 0)}}}
	w := &memWriter{objects: map[string][]byte{}, err: errors.New("boom")}
	_, err := NewArchiver(w, nil, journal, "").ArchiveTrades(context.Background(), time.Now())
	require.Error(t, err)
	assert.Len(t, journal.trades, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
}
