// Package scheduler fires pipeline passes at fixed wall-clock times in the
// configured timezone.
package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/types"
)

// PassFunc runs one pipeline pass of the given kind
type PassFunc func(ctx context.Context, kind types.PassKind) error

// PruneFunc drops expired cache rows
type PruneFunc func(ctx context.Context) error

type Scheduler struct {
	cron   *gocron.Scheduler
	cfg    config.ScheduleSettings
	pass   PassFunc
	prune  PruneFunc
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.ScheduleSettings, pass PassFunc, prune PruneFunc) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cron := gocron.NewScheduler(loc)
	// a slow pass delays the next tick instead of overlapping it
	cron.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, cfg: cfg, pass: pass, prune: prune, ctx: ctx, cancel: cancel}
}

// KindFor tells whether the pass at hh:mm is the daily digest
func (s *Scheduler) KindFor(at string) types.PassKind {
	if at == s.cfg.DigestTime {
		return types.PassDigest
	}
	return types.PassRoutine
}

// Register adds one job per run time plus the prune job
func (s *Scheduler) Register() error {
	for _, at := range s.cfg.RunTimes {
		at := at
		kind := s.KindFor(at)
		_, err := s.cron.Every(1).Day().At(at).Tag(string(kind), at).Do(func() {
			s.runPass(kind, at)
		})
		if err != nil {
			return errors.Wrapf(err, "could not schedule pass at %s", at)
		}
		log.WithFields(log.Fields{"at": at, "kind": kind}).Info("Scheduled pass")
	}

	if s.prune != nil && s.cfg.PruneTime != "" {
		_, err := s.cron.Every(1).Day().At(s.cfg.PruneTime).Tag("prune").Do(func() {
			if err := s.prune(s.ctx); err != nil {
				log.Errorf("cache prune failed: %v", err)
			}
		})
		if err != nil {
			return errors.Wrapf(err, "could not schedule prune at %s", s.cfg.PruneTime)
		}
	}
	return nil
}

func (s *Scheduler) runPass(kind types.PassKind, at string) {
	logger := log.WithFields(log.Fields{"kind": kind, "at": at})
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 4096)
			stackSize := runtime.Stack(stackBuf, false)
			logger.Errorf("Recovered from panic in pass: %v\nStack trace: %s", r, stackBuf[:stackSize])
		}
	}()
	logger.Info("Scheduled pass starting")
	if err := s.pass(s.ctx, kind); err != nil {
		logger.Errorf("pass failed: %v", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
	log.Info("Scheduler started")
}

// Stop cancels a running pass and waits for the scheduler to halt
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	log.Info("Scheduler stopped")
}

// Jobs lists the tags of every registered job
func (s *Scheduler) Jobs() [][]string {
	var out [][]string
	for _, j := range s.cron.Jobs() {
		out = append(out, j.Tags())
	}
	return out
}
