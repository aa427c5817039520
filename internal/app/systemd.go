package app

import (
	"cacheful/internal/notify"
	"cacheful/internal/timer"
	logx "cacheful/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotifyFunc matches daemon.SdNotify without the unsetEnvironment flag.
type sdNotifyFunc func(state string) (bool, error)

func systemdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

// readinessSubscriber reports timer lifecycle to systemd. Outside a
// Type=notify unit NOTIFY_SOCKET is unset and every call is a no-op.
type readinessSubscriber struct {
	notify sdNotifyFunc
	log    logx.Logger
}

func newReadinessSubscriber(fn sdNotifyFunc, log logx.Logger) *readinessSubscriber {
	if fn == nil {
		fn = systemdNotify
	}
	return &readinessSubscriber{notify: fn, log: log.With(logx.String("comp", "systemd"))}
}

func (s *readinessSubscriber) Notify(e notify.Event) {
	var state string
	switch e.Message {
	case timer.MsgStarted:
		state = daemon.SdNotifyReady
	case timer.MsgStopping, timer.MsgNotRemoved, timer.MsgRemoveFailed:
		state = daemon.SdNotifyStopping
	default:
		return
	}
	sent, err := s.notify(state)
	if err != nil {
		s.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		s.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
