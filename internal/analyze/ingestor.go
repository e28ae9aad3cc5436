package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

// SegmentStore abstracts the storage operations the ingestor needs.
// Implemented by storage.Store.
type SegmentStore interface {
	PendingSegments(limit, maxFailures int) ([]storage.Segment, error)
	CompleteAnalysis(a storage.Analysis) error
	RecordAnalysisFailure(id string) error
}

// maxAttempts is the total analysis attempts per segment: one initial
// call plus two retries. Segments at the cap stay unanalyzed and are
// excluded from future batches.
const maxAttempts = 3

// Ingestor turns finished recording segments into analysis records.
// A tick with no attached AI client is a no-op, not an error.
type Ingestor struct {
	store       SegmentStore
	slot        *ai.Slot
	batchSize   int
	callTimeout time.Duration
	readFile    func(path string) ([]byte, error)
	logger      *slog.Logger
}

// NewIngestor creates an Ingestor. batchSize defaults to 10 and
// callTimeout to 120s when non-positive.
func NewIngestor(store SegmentStore, slot *ai.Slot, batchSize int, callTimeout time.Duration) *Ingestor {
	if batchSize <= 0 {
		batchSize = 10
	}
	if callTimeout <= 0 {
		callTimeout = 120 * time.Second
	}
	return &Ingestor{
		store:       store,
		slot:        slot,
		batchSize:   batchSize,
		callTimeout: callTimeout,
		readFile:    os.ReadFile,
		logger:      slog.Default(),
	}
}

// RunOnce processes one bounded batch of pending segments, oldest first.
// Returns the number of segments successfully analyzed. Per-segment
// failures (including timeouts) count toward that segment's retry cap
// and never abort the batch.
func (i *Ingestor) RunOnce(ctx context.Context) (int, error) {
	client, ok := i.slot.Get()
	if !ok {
		return 0, nil
	}

	segments, err := i.store.PendingSegments(i.batchSize, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("fetching pending segments: %w", err)
	}

	analyzed := 0
	for _, seg := range segments {
		if ctx.Err() != nil {
			return analyzed, ctx.Err()
		}
		if err := i.processSegment(ctx, client, seg); err != nil {
			i.logger.Warn("segment analysis failed", "segment_id", seg.ID, "error", err)
			if failErr := i.store.RecordAnalysisFailure(seg.ID); failErr != nil {
				i.logger.Error("recording analysis failure", "segment_id", seg.ID, "error", failErr)
			}
			continue
		}
		analyzed++
	}
	return analyzed, nil
}

func (i *Ingestor) processSegment(ctx context.Context, client ai.Client, seg storage.Segment) error {
	video, err := i.readFile(seg.Path)
	if err != nil {
		return fmt.Errorf("reading segment file: %w", err)
	}

	// Fixed per-call timeout: a single slow model call must not stall
	// the batch. A timeout counts as a failed attempt like any error.
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	resp, err := client.AnalyzeFrames(callCtx, [][]byte{video}, analysisPrompt, analysisSchema())
	if err != nil {
		return fmt.Errorf("analyzing frames: %w", err)
	}

	parsed, err := parseAnalysis(resp)
	if err != nil {
		return fmt.Errorf("parsing analysis: %w", err)
	}

	a := storage.Analysis{
		ID:              uuid.New().String(),
		SegmentID:       seg.ID,
		App:             parsed.App,
		Category:        parsed.Category,
		Description:     parsed.Description,
		Tags:            parsed.Tags,
		Productivity:    parsed.Productivity,
		Focus:           parsed.Focus,
		Summary:         parsed.Summary,
		ProjectHint:     parsed.ProjectHint,
		Accomplishments: parsed.Accomplishments,
		Continuation:    parsed.Continuation,
		CreatedAt:       time.Now().UTC(),
	}
	if err := i.store.CompleteAnalysis(a); err != nil {
		return fmt.Errorf("persisting analysis: %w", err)
	}
	return nil
}
