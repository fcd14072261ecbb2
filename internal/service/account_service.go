package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
	"github.com/iliyamo/karaoke-backend/internal/auth"
	"github.com/iliyamo/karaoke-backend/internal/model"
	"github.com/iliyamo/karaoke-backend/internal/queue"
	"github.com/iliyamo/karaoke-backend/internal/ratelimit"
	"github.com/iliyamo/karaoke-backend/internal/repository"
	"github.com/iliyamo/karaoke-backend/internal/utils"
)

// Account types accepted at registration.
const (
	AccountCustomer = "customer"
	AccountSinger   = "singer"
)

// AccountStore creates and looks up accounts.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	CreateCustomerAccount(ctx context.Context, email, passwordHash, customerName string) (*model.User, *model.Customer, error)
	CreateSingerAccount(ctx context.Context, email, passwordHash, displayName string) (*model.User, *model.Singer, error)
}

// Limiter admits or rejects an operation for an identity.
type Limiter interface {
	Allow(ctx context.Context, p ratelimit.Policy, identity string) (ratelimit.Result, error)
}

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Email       string
	Password    string
	AccountType string
	// Name is the organization name for customers and the display name
	// for singers.
	Name string
}

// AccountService runs registration, sign-in and sign-out on top of the
// token service.
type AccountService struct {
	Accounts      AccountStore
	Tokens        *TokenService
	Limiter       Limiter
	SignInPolicy  ratelimit.Policy
	RefreshPolicy ratelimit.Policy
	BcryptCost    int
	Events        EventPublisher
	Log           logrus.FieldLogger
}

// Register creates the account and returns a session for it.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := repository.NormalizeEmail(in.Email)
	hash, err := utils.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return nil, err
	}

	var userID string
	switch in.AccountType {
	case AccountCustomer:
		u, _, err := s.Accounts.CreateCustomerAccount(ctx, email, hash, nameOr(in.Name, email))
		if err != nil {
			return nil, err
		}
		userID = u.ID
	case AccountSinger:
		u, _, err := s.Accounts.CreateSingerAccount(ctx, email, hash, nameOr(in.Name, strings.SplitN(email, "@", 2)[0]))
		if err != nil {
			return nil, err
		}
		userID = u.ID
	default:
		return nil, apperr.Invalid("accountType", "must be customer or singer")
	}

	sess, err := s.Tokens.CreateSession(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	s.emit(queue.SessionCreated, sess)
	return sess, nil
}

// SignIn checks credentials and starts a session. Unknown accounts,
// inactive accounts and wrong passwords are indistinguishable.
func (s *AccountService) SignIn(ctx context.Context, email, password string, override *auth.ActiveContext) (*Session, error) {
	email = repository.NormalizeEmail(email)
	if s.Limiter != nil {
		if _, err := s.Limiter.Allow(ctx, s.SignInPolicy, email); err != nil {
			return nil, err
		}
	}

	invalid := apperr.Unauthenticated("invalid credentials", nil)
	u, err := s.Accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		return nil, invalid
	}
	if err != nil {
		return nil, apperr.Unavailable("users.load", err)
	}
	if !u.Activated() {
		utils.BurnPasswordCheck(password)
		return nil, invalid
	}
	if !utils.VerifyPassword(*u.PasswordHash, password) {
		return nil, invalid
	}

	sess, err := s.Tokens.CreateSession(ctx, u.ID, override)
	if err != nil {
		return nil, err
	}
	s.emit(queue.SessionCreated, sess)
	return sess, nil
}

// Refresh exchanges a refresh token for a new session.
func (s *AccountService) Refresh(ctx context.Context, userID, refreshToken string, override *auth.ActiveContext) (*Session, error) {
	if s.Limiter != nil {
		if _, err := s.Limiter.Allow(ctx, s.RefreshPolicy, userID); err != nil {
			return nil, err
		}
	}
	sess, err := s.Tokens.RefreshSession(ctx, userID, refreshToken, override)
	if err != nil {
		return nil, err
	}
	s.emit(queue.SessionRefreshed, sess)
	return sess, nil
}

// SignOut revokes one refresh token. The token must verify first so a
// caller cannot revoke by id alone; an invalid token is a no-op.
func (s *AccountService) SignOut(ctx context.Context, userID, refreshToken string) error {
	v, err := s.Tokens.VerifyRefreshToken(ctx, userID, refreshToken)
	if err != nil || v == nil {
		return err
	}
	if err := s.Tokens.RevokeRefreshToken(ctx, userID, v.TokenID); err != nil {
		return err
	}
	publishAsync(s.Events, s.logger(), queue.SessionEvent{
		Type: queue.SessionRevoked, UserID: userID, TokenID: v.TokenID, OccurredAt: time.Now().UTC(),
	})
	return nil
}

// SignOutEverywhere revokes every refresh token of userID.
func (s *AccountService) SignOutEverywhere(ctx context.Context, userID string) (int, error) {
	n, err := s.Tokens.RevokeAllRefreshTokens(ctx, userID)
	if err != nil {
		return n, err
	}
	publishAsync(s.Events, s.logger(), queue.SessionEvent{
		Type: queue.SessionRevoked, UserID: userID, OccurredAt: time.Now().UTC(),
	})
	return n, nil
}

func (s *AccountService) emit(kind string, sess *Session) {
	ev := queue.SessionEvent{Type: kind, UserID: sess.Claims.Subject, OccurredAt: time.Now().UTC()}
	if id, _, ok := repository.SplitRefreshToken(sess.RefreshToken); ok {
		ev.TokenID = id
	}
	if c := sess.Claims.Context; c != nil {
		ev.Context = string(c.Type) + ":" + c.ID
	}
	publishAsync(s.Events, s.logger(), ev)
}

func (s *AccountService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func nameOr(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
