package cli

import (
	"context"
	"time"

	coresys "github.com/l1jgo/chunkkeep/internal/core/system"
	"github.com/l1jgo/chunkkeep/internal/world"
	"go.uber.org/zap"
)

// chunkFlusher writes generated chunks back to the database every interval
// ticks. Phase 6 (Persist).
type chunkFlusher struct {
	src       *world.StoredSource
	log       *zap.Logger
	tickCount int
	interval  int
}

func newChunkFlusher(src *world.StoredSource, intervalTicks int, log *zap.Logger) *chunkFlusher {
	return &chunkFlusher{src: src, log: log, interval: intervalTicks}
}

func (s *chunkFlusher) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *chunkFlusher) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.flush()
}

// flush saves everything queued. Failed records stay queued for the next one.
func (s *chunkFlusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := s.src.Flush(ctx)
	if err != nil {
		s.log.Error("chunk write-back failed", zap.Int("queued", s.src.Pending()), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("chunks written back", zap.Int("count", n))
	}
}
