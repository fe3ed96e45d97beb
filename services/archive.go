package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"progression-engine/store"
	"progression-engine/utils"

	"golang.org/x/sync/errgroup"
)

// LedgerArchiver exports a UTC day of the XP and streak ledgers as JSON Lines.
type LedgerArchiver struct {
	Store    store.Store
	Uploader utils.ObjectPutter
	Prefix   string
	Log      *slog.Logger
}

// ArchiveKey is the object key for one ledger and day.
func (a *LedgerArchiver) ArchiveKey(ledger string, day time.Time) string {
	prefix := a.Prefix
	if prefix == "" {
		prefix = "ledger"
	}
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, ledger, day.UTC().Format(time.DateOnly))
}

// ArchiveDay uploads both ledgers for the day containing day. Empty ledgers are skipped.
func (a *LedgerArchiver) ArchiveDay(ctx context.Context, day time.Time) error {
	from := utcMidnight(day)
	to := from.AddDate(0, 0, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.Store.XPHistoryBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("read xp history: %w", err)
		}
		return a.upload(ctx, "xp_history", from, len(rows), func(enc *json.Encoder) error {
			for i := range rows {
				if err := enc.Encode(&rows[i]); err != nil {
					return err
				}
			}
			return nil
		})
	})
	g.Go(func() error {
		rows, err := a.Store.StreakHistoryBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("read streak history: %w", err)
		}
		return a.upload(ctx, "streak_history", from, len(rows), func(enc *json.Encoder) error {
			for i := range rows {
				if err := enc.Encode(&rows[i]); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return g.Wait()
}

func (a *LedgerArchiver) upload(ctx context.Context, ledger string, day time.Time, n int, write func(*json.Encoder) error) error {
	if n == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := write(json.NewEncoder(&buf)); err != nil {
		return fmt.Errorf("encode %s: %w", ledger, err)
	}
	key := a.ArchiveKey(ledger, day)
	if err := a.Uploader.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return err
	}
	a.Log.Info("📦 ledger archived", "key", key, "rows", n)
	return nil
}
