package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// archiveBatchSize caps each event-store page while draining a market's
// history.
const archiveBatchSize = 500

// Archiver implements domain.EventArchiver. After a market is swept it
// serializes the market snapshot and its full event history to JSONL,
// uploads the result and reads it back to confirm the record count. The
// hot rows stay in Postgres; deleting them is a separate, explicit
// operation run only against a verified archive.
type Archiver struct {
	store   *Client
	markets domain.MarketStore
	events  domain.EventStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver that reads from the given stores and
// writes to the client's configured bucket.
func NewArchiver(c *Client, markets domain.MarketStore, events domain.EventStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:   c,
		markets: markets,
		events:  events,
		logger:  logger.With("component", "archiver"),
	}
}

// archiveRecord is one JSONL line. The first line of every archive is the
// market snapshot; every following line is one event in append order.
type archiveRecord struct {
	Kind   string         `json:"kind"` // "market" or "event"
	Market *domain.Market `json:"market,omitempty"`
	Event  *domain.Event  `json:"event,omitempty"`
}

// ArchiveMarket uploads the market snapshot and complete event history to
// archive/markets/{id}.jsonl, verifies the upload by reading it back, and
// returns the object's s3:// location.
func (a *Archiver) ArchiveMarket(ctx context.Context, marketID string) (string, error) {
	market, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveRecord{Kind: "market", Market: &market}); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: encode snapshot: %w", marketID, err)
	}

	// Drain the event log in pages so a busy market never loads all at once.
	records := 1
	for offset := 0; ; offset += archiveBatchSize {
		batch, err := a.events.ListByMarket(ctx, marketID, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return "", fmt.Errorf("s3blob: archive market %s: list events: %w", marketID, err)
		}
		for i := range batch {
			if err := enc.Encode(archiveRecord{Kind: "event", Event: &batch[i]}); err != nil {
				return "", fmt.Errorf("s3blob: archive market %s: encode event %s: %w", marketID, batch[i].ID, err)
			}
		}
		records += len(batch)
		if len(batch) < archiveBatchSize {
			break
		}
	}

	key := fmt.Sprintf("archive/markets/%s.jsonl", marketID)
	if err := a.store.upload(ctx, key, "application/x-ndjson", bytes.NewReader(buf.Bytes())); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}
	if err := a.verify(ctx, key, records); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.store.Bucket(), key)
	a.logger.Info("archived market history",
		"market_id", marketID,
		"records", records,
		"location", location,
	)
	return location, nil
}

// verify reads the uploaded object back and checks the line count against
// what was serialized. Hot rows must never be dropped on the strength of
// an unverified archive.
func (a *Archiver) verify(ctx context.Context, key string, want int) error {
	body, err := a.store.download(ctx, key)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	defer body.Close()

	got := 0
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			got++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("verify: read back %s: %w", key, err)
	}
	if got != want {
		return fmt.Errorf("verify: %s holds %d records, wrote %d", key, got, want)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventArchiver = (*Archiver)(nil)
