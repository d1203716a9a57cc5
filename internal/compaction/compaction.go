// Package compaction prunes old snapshot versions so each session keeps
// only its most recent saves.
package compaction

import (
	"log"
	"sync"
	"time"

	"github.com/manpreetbhatti/classboard/internal/db"
)

type Config struct {
	Interval     time.Duration
	KeepSnapshot int
	BatchSize    int
}

func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		KeepSnapshot: 10,
		BatchSize:    500,
	}
}

type Service struct {
	database *db.Database
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Service{
		database: database,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🗜️ Snapshot compaction started (interval: %v, keep: %d)",
		s.config.Interval, s.config.KeepSnapshot)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("🗜️ Snapshot compaction stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.compactAllSessions()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.compactAllSessions()
		}
	}
}

func (s *Service) compactAllSessions() int64 {
	var total int64
	for offset := 0; ; offset += s.config.BatchSize {
		sessions, err := s.database.ListSessions(s.config.BatchSize, offset)
		if err != nil {
			log.Printf("Compaction: failed to list sessions: %v", err)
			return total
		}
		for _, session := range sessions {
			if !s.shouldCompact(session.ID) {
				continue
			}
			pruned, err := s.CompactNow(session.ID)
			if err != nil {
				log.Printf("Compaction: failed for session %s: %v", session.ID, err)
				continue
			}
			total += pruned
		}
		if len(sessions) < s.config.BatchSize {
			break
		}
	}

	if total > 0 {
		log.Printf("🗜️ Pruned %d snapshots", total)
	}
	return total
}

func (s *Service) shouldCompact(sessionID string) bool {
	count, err := s.database.CountSnapshots(sessionID)
	if err != nil {
		return false
	}
	return count > s.config.KeepSnapshot
}

// CompactNow prunes one session immediately and returns how many
// snapshots were removed.
func (s *Service) CompactNow(sessionID string) (int64, error) {
	return s.database.PruneSnapshots(sessionID, s.config.KeepSnapshot)
}
