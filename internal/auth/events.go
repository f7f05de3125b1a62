package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/warren/internal/session"
)

// EventSource はPostgreSQLのNOTIFYチャネルを購読する。
// handleにはペイロードが渡される。再接続で通知を取りこぼした可能性がある場合は空文字列が渡される。
type EventSource interface {
	Listen(ctx context.Context, channel string, handle func(payload string)) error
}

// PQEventSource はpq.Listenerを使ったEventSource実装。
type PQEventSource struct {
	databaseURL string
	// pingInterval は通知がない間に接続を確認する間隔。
	pingInterval time.Duration
}

// NewPQEventSource はPQEventSourceを生成する。
func NewPQEventSource(databaseURL string) *PQEventSource {
	return &PQEventSource{databaseURL: databaseURL, pingInterval: 90 * time.Second}
}

// Listen はctxが終了するまでchannelの通知をhandleに渡す。
func (s *PQEventSource) Listen(ctx context.Context, channel string, handle func(payload string)) error {
	listener := pq.NewListener(s.databaseURL, time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("auth event listener connection problem",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	slog.Info("listening for auth events", slog.String("channel", channel))

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			// 再接続後はnilが届く。切断中の通知は失われている。
			if n == nil {
				handle("")
				continue
			}
			handle(n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				slog.Warn("auth event listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

var _ EventSource = (*PQEventSource)(nil)

// parseEvent は "session:<id>" / "user:<id>" 形式のペイロードを失効イベントに変換する。
// 空のペイロードは対象を特定できない失効（全キャッシュの破棄）として扱う。
func parseEvent(payload string) (session.Event, bool) {
	if payload == "" {
		return session.Event{Kind: session.EventRevoked}, true
	}
	kind, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return session.Event{}, false
	}
	switch kind {
	case "session":
		return session.Event{Kind: session.EventRevoked, SessionID: id}, true
	case "user":
		return session.Event{Kind: session.EventRevoked, UserID: id}, true
	default:
		return session.Event{}, false
	}
}
