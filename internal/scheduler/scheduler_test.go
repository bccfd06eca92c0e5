package scheduler

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/types"
)

func settings() config.ScheduleSettings {
	return config.ScheduleSettings{
		RunTimes:   []string{"09:30", "12:00", "16:05"},
		DigestTime: "16:05",
		PruneTime:  "03:00",
		Location:   time.UTC,
	}
}

func noopPass(context.Context, types.PassKind) error { return nil }

func TestKindFor(t *testing.T) {
	s := New(settings(), noopPass, nil)
	tests := map[string]types.PassKind{
		"09:30": types.PassRoutine,
		"12:00": types.PassRoutine,
		"16:05": types.PassDigest,
	}
	for at, want := range tests {
		if got := s.KindFor(at); got != want {
			t.Errorf("KindFor(%s) = %s, want %s", at, got, want)
		}
	}
}

func TestRegister(t *testing.T) {
	s := New(settings(), noopPass, func(context.Context) error { return nil })
	if err := s.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := []string{"digest,16:05", "prune", "routine,09:30", "routine,12:00"}
	var got []string
	for _, tags := range s.Jobs() {
		got = append(got, strings.Join(tags, ","))
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("jobs = %v, want %v", got, want)
	}
}

func TestRegisterRejectsBadTime(t *testing.T) {
	cfg := settings()
	cfg.RunTimes = []string{"25:99"}
	if err := New(cfg, noopPass, nil).Register(); err == nil {
		t.Fatal("expected error for invalid time")
	}
}

func TestStopCancelsPassContext(t *testing.T) {
	s := New(settings(), noopPass, nil)
	s.Start()
	s.Stop()
	if s.ctx.Err() == nil {
		t.Error("pass context should be cancelled after Stop")
	}
}

func TestRunPassRecoversPanic(t *testing.T) {
	s := New(settings(), func(context.Context, types.PassKind) error { panic("boom") }, nil)
	s.runPass(types.PassRoutine, "09:30")
}
