// Package user はプロフィールページとMy Warrenの表示データを組み立てる。
package user

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/warren/internal/cases"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
	"github.com/hitoshi/warren/internal/session"
)

// CaseLister は投稿者ごとのケース一覧を取得する。cases.Serviceが満たす。
type CaseLister interface {
	GetCasesByAuthor(ctx context.Context, authorID string) ([]model.Case, error)
}

// ProfilePage はプロフィールページの表示内容。
type ProfilePage struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Email       string
	Cases       []model.Case
}

// Service はプロフィールとユーザーのケース一覧を提供する。
type Service struct {
	profiles repository.ProfileRepository
	cases    CaseLister
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, cases CaseLister) *Service {
	return &Service{
		profiles: profiles,
		cases:    cases,
	}
}

// Profile はプロフィールと投稿済みケースを並行して取得する。
// プロフィールが無い場合はメールアドレスのローカル部と決定的なアバターで補う。
func (s *Service) Profile(ctx context.Context, identity *session.Identity) (*ProfilePage, error) {
	if identity == nil {
		return nil, model.NewPermissionError()
	}

	var (
		profile *model.Profile
		list    []model.Case
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.FindByUserID(gctx, identity.UserID)
		if err != nil {
			return fmt.Errorf("failed to find profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		c, err := s.cases.GetCasesByAuthor(gctx, identity.UserID)
		if err != nil {
			return err
		}
		list = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &ProfilePage{
		UserID:      identity.UserID,
		DisplayName: localPart(identity.Email),
		AvatarURL:   cases.PlaceholderAvatarURL(identity.UserID),
		Email:       identity.Email,
		Cases:       list,
	}
	if profile != nil {
		if profile.Username != "" {
			page.DisplayName = profile.Username
		}
		if profile.AvatarURL != "" {
			page.AvatarURL = profile.AvatarURL
		}
	}
	return page, nil
}

// Warren はユーザー自身のケース一覧（My Warren）を新しい順に返す。
func (s *Service) Warren(ctx context.Context, identity *session.Identity) ([]model.Case, error) {
	if identity == nil {
		return nil, model.NewPermissionError()
	}
	return s.cases.GetCasesByAuthor(ctx, identity.UserID)
}

func localPart(email string) string {
	if at := strings.LastIndex(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
