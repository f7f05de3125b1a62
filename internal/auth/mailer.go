package auth

import (
	"context"
	"log/slog"
)

// Mailer はサインアップ確認リンクの送信経路。
type Mailer interface {
	SendConfirmation(ctx context.Context, email, link string) error
}

// LogMailer は確認リンクをログに出力するだけのMailer。
// メール配信基盤を持たない環境（開発・デモ）で使用する。
type LogMailer struct{}

// SendConfirmation は確認リンクをINFOレベルでログに出力する。
func (LogMailer) SendConfirmation(_ context.Context, email, link string) error {
	slog.Info("confirmation link issued",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}

var _ Mailer = LogMailer{}
