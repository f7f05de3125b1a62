package auth

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeEmail はメールアドレスを比較・保存用の形式に揃える。
// 前後の空白を除去して小文字化し、ドメイン部をIDNAのASCII形式（punycode）に変換する。
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("invalid email address: %q", raw)
	}

	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", fmt.Errorf("invalid email address: %q", raw)
	}
	local, domain := addr.Address[:at], addr.Address[at+1:]

	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("invalid email domain %q: %w", domain, err)
	}
	return strings.ToLower(local) + "@" + strings.ToLower(asciiDomain), nil
}

// usernameFromEmail はプロフィールの初期ユーザー名（メールアドレスのローカル部）を返す。
func usernameFromEmail(email string) string {
	if at := strings.LastIndex(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
