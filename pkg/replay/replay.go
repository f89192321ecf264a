package replay

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Sleeper abstracts the inter-chunk delay so tests can observe timing
// without actually waiting, and so cancellation can interrupt a sleep.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps for real, honoring context cancellation.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Params configures a deterministic hit replay.
type Params struct {
	CacheKey     string
	Content      string
	ID           string
	Model        string
	CreatedUnix  int64
	FinishReason string
	Hit          bool // true halves the inter-chunk delay mean
}

// Replay deterministically re-emits Content as a sequence of streaming
// Chunks, sleeping between them via sleeper, and calling emit for each
// chunk in order. It stops early and returns ctx.Err() on cancellation,
// without emitting a finish chunk (so a cancelled replay does not read as
// a completed response downstream).
func Replay(ctx context.Context, p Params, emit func(Chunk) error, sleeper Sleeper) error {
	rng := rand.New(rand.NewSource(SeedFromKey(p.CacheKey)))

	words := strings.Fields(p.Content)
	groups := chunkWords(rng, words)

	mean := delayMeanMissMs
	if p.Hit {
		mean /= 2
	}

	for i, group := range groups {
		if i > 0 {
			delayMs := interChunkDelayMs(rng, mean)
			if err := sleeper.Sleep(ctx, time.Duration(delayMs*float64(time.Millisecond))); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		text := joinWords(group)
		if i > 0 {
			text = " " + text
		}

		delta := Delta{Content: text}
		if i == 0 {
			delta.Role = "assistant"
		}

		chunk := Chunk{
			ID:      p.ID,
			Object:  chunkObject,
			Created: p.CreatedUnix,
			Model:   p.Model,
			Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: nil}},
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}

	finish := p.FinishReason
	if finish == "" {
		finish = "stop"
	}
	final := Chunk{
		ID:      p.ID,
		Object:  chunkObject,
		Created: p.CreatedUnix,
		Model:   p.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: Delta{}, FinishReason: &finish}},
	}
	return emit(final)
}
