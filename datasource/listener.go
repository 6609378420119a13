package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/lib/pq"
)

// DefaultNotifyChannel is the LISTEN channel the row-change trigger
// publishes to (see migrations).
const DefaultNotifyChannel = "matchmaker_changes"

// Listener turns Postgres NOTIFY payloads into Change notifications.
type Listener struct {
	dsn     string
	channel string

	minReconnect time.Duration
	maxReconnect time.Duration
}

// NewListener prepares a listener on channel for the database at dsn.
func NewListener(dsn, channel string) *Listener {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &Listener{
		dsn:          dsn,
		channel:      channel,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
	}
}

// Changes connects, LISTENs and streams decoded notifications until ctx is
// done. After a reconnect a ChangeReset is emitted because notifications sent
// while disconnected are lost.
func (l *Listener) Changes(ctx context.Context) (<-chan Change, error) {
	events := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			glog.Warningf("[listener] %s: connection event %d: %v", l.channel, ev, err)
		case pq.ListenerEventReconnected:
			glog.Infof("[listener] %s: reconnected", l.channel)
		}
	}
	pl := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, events)
	if err := pl.Listen(l.channel); err != nil {
		pl.Close()
		return nil, classify("listen", err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer pl.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-pl.Notify:
				// A nil notification is sent after the connection was
				// re-established.
				var c Change
				if n == nil {
					c = Change{Type: ChangeReset}
				} else {
					parsed, err := parseNotification(n.Extra)
					if err != nil {
						glog.Warningf("[listener] %s: %v", l.channel, err)
						continue
					}
					c = parsed
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				go func() {
					if err := pl.Ping(); err != nil {
						glog.V(1).Infof("[listener] %s ping: %v", l.channel, err)
					}
				}()
			}
		}
	}()
	return out, nil
}

func parseNotification(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decoding change notification: %w", err)
	}
	switch c.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete, ChangeReset:
	default:
		return Change{}, fmt.Errorf("unknown change type %q", c.Type)
	}
	if c.Type != ChangeReset && !ValidIdent(c.Table) {
		return Change{}, fmt.Errorf("invalid table %q in change notification", c.Table)
	}
	return c, nil
}
