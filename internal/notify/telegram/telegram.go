// Package telegram forwards timer notifications to a Telegram chat.
package telegram

import (
	"errors"
	"strings"
	"sync/atomic"

	"cacheful/internal/notify"
	logx "cacheful/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Sender is the part of *tele.Bot this package needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Config struct {
	Token      string
	ChatID     int64
	ThreadID   int // forum topic; 0 for the main chat
	RatePerSec int
	Buffer     int
}

// Subscriber renders each event and sends it as one message. Sending runs
// on its own goroutine behind a rate limit, so a slow API never stalls the
// timer loop; events over the limit or the buffer are dropped.
type Subscriber struct {
	sender Sender
	chat   *tele.Chat
	opts   *tele.SendOptions
	log    logx.Logger

	async *notify.AsyncSubscriber
	entry notify.Subscriber

	sent   atomic.Uint64
	failed atomic.Uint64
}

// New connects a bot with cfg.Token.
func New(cfg Config, log logx.Logger) (*Subscriber, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Send-only: no poller is started.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return NewWithSender(b, cfg, log), nil
}

// NewWithSender builds a subscriber on an existing sender.
func NewWithSender(sender Sender, cfg Config, log logx.Logger) *Subscriber {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Subscriber{
		sender: sender,
		chat:   &tele.Chat{ID: cfg.ChatID},
		opts:   &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
		log:    log.With(logx.String("comp", "notify.telegram")),
	}
	s.async = notify.Async(notify.SubscriberFunc(s.send), cfg.Buffer)
	s.entry = s.async
	if cfg.RatePerSec > 0 {
		s.entry = notify.Limited(s.async, cfg.RatePerSec)
	}
	return s
}

func (s *Subscriber) Notify(e notify.Event) { s.entry.Notify(e) }

func (s *Subscriber) send(e notify.Event) {
	if _, err := s.sender.Send(s.chat, notify.Render(e), s.opts); err != nil {
		s.failed.Add(1)
		s.log.Warn("telegram send failed", logx.Err(err), logx.String("level", e.Level.String()))
		return
	}
	s.sent.Add(1)
}

// Sent and Failed count delivery outcomes.
func (s *Subscriber) Sent() uint64   { return s.sent.Load() }
func (s *Subscriber) Failed() uint64 { return s.failed.Load() }

// Close drains queued events and stops the sender goroutine.
func (s *Subscriber) Close() { s.async.Close() }
