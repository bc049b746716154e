// Package notifier mirrors selected alarm events to a Telegram chat.
//
// The mirror is an observer on the event bus: it can lag or drop without
// affecting the pipeline, and every send passes a rate limiter so a noisy
// alarm cannot flood the chat.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/sched"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot     *tele.Bot
	limiter *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log, bus: bus}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("notifier: token and chat_id are required when enabled")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	s.bot = bot

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if s.bot == nil || s.bus == nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	events, unsub := s.bus.Subscribe(64)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handle(runCtx, ev)
			}
		}
	}()
	s.log.Info("telegram mirror started", logx.Int64("chat_id", s.cfg.ChatID))
}

func (s *Service) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	msg := format(ev)
	if msg == "" {
		return
	}
	// Never block on the limiter: the mirror drops rather than lags.
	if !s.limiter.Allow() {
		return
	}
	if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), msg); err != nil {
		s.log.Warn("telegram send failed", logx.String("event", ev.Type), logx.Err(err))
	}
	_ = ctx
}

func format(ev eventbus.Event) string {
	v, ok := viewOf(ev.Data)
	if !ok {
		return ""
	}
	switch ev.Type {
	case sched.EvPrinted:
		return fmt.Sprintf("🔔 Alarm(%d) %s", v.ID, v.Message)
	case sched.EvCancelled:
		return fmt.Sprintf("✖ Alarm(%d) cancelled", v.ID)
	case sched.EvExpired:
		return fmt.Sprintf("⏰ Alarm(%d) expired", v.ID)
	case sched.EvSuspended:
		return fmt.Sprintf("⏸ Alarm(%d) suspended", v.ID)
	case sched.EvReactivated:
		return fmt.Sprintf("▶ Alarm(%d) reactivated", v.ID)
	default:
		return ""
	}
}

// viewOf digs the alarm view out of the tracer's event payloads: plain
// views from the consumer, dispatcher, reaper and suspend applier, change effects
// from the change applier, emission records from the workers.
func viewOf(data any) (alarm.View, bool) {
	switch d := data.(type) {
	case alarm.View:
		return d, true
	case store.Emission:
		return d.Alarm, true
	case store.ChangeEffect:
		return d.Alarm, true
	default:
		return alarm.View{}, false
	}
}
