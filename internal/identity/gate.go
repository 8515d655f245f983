// Package identity restricts the chat to approved emails and resolves
// session tokens into participants.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"private-chat/backend/internal/models"
	"private-chat/backend/pkg/cache"
	"private-chat/backend/pkg/jwt"
	"private-chat/backend/pkg/logger"
)

var (
	ErrNotApproved        = errors.New("email is not on the approval list")
	ErrUserAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidProfile     = errors.New("display name is required")
)

// Session is the result of a successful signup or signin
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Gate is the identity boundary of the chat
type Gate struct {
	repo     Repository
	tokens   *jwt.Service
	approved *cache.Cache
	log      *logger.Logger
	now      func() time.Time
}

// NewGate creates a gate. approvals may be nil to disable caching.
func NewGate(repo Repository, tokens *jwt.Service, approvals *cache.Cache, log *logger.Logger) *Gate {
	return &Gate{
		repo:     repo,
		tokens:   tokens,
		approved: approvals,
		log:      log,
		now:      time.Now,
	}
}

// IsApproved reports whether email is on the approval list. Comparison is
// case-insensitive and ignores surrounding whitespace.
func (g *Gate) IsApproved(ctx context.Context, email string) (bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	if g.approved != nil {
		if v, ok := g.approved.Get(email); ok {
			return v.(bool), nil
		}
	}

	ok, err := g.repo.IsApproved(ctx, email)
	if err != nil {
		return false, err
	}
	if g.approved != nil {
		g.approved.Set(email, ok)
	}
	return ok, nil
}

// SeedApproved adds emails to the approval list. Re-seeding is a no-op.
func (g *Gate) SeedApproved(ctx context.Context, emails []string) error {
	normalized := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = models.NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	if err := g.repo.AddApproved(ctx, normalized); err != nil {
		return err
	}
	if g.approved != nil {
		for _, e := range normalized {
			g.approved.Delete(e)
		}
	}
	g.log.Info("Approval list seeded", "count", len(normalized))
	return nil
}

// Signup creates an account for an approved email and opens a session
func (g *Gate) Signup(ctx context.Context, email, password, displayName string) (*Session, error) {
	email = models.NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidProfile
	}

	ok, err := g.IsApproved(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.log.Warn("Signup rejected, email not approved", "email", email)
		return nil, ErrNotApproved
	}

	if _, err := g.repo.UserByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Email:       email,
		Password:    hash,
		DisplayName: displayName,
		LastLogin:   g.now(),
	}
	if err := g.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	g.log.Info("User signed up", "user_id", user.ID)
	return g.issue(user)
}

// Signin authenticates an existing account
func (g *Gate) Signin(ctx context.Context, email, password string) (*Session, error) {
	email = models.NormalizeEmail(email)

	user, err := g.repo.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !models.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	ok, err := g.IsApproved(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.log.Warn("Signin rejected, email no longer approved", "user_id", user.ID)
		return nil, ErrNotApproved
	}

	user.LastLogin = g.now()
	if err := g.repo.UpdateUser(ctx, user); err != nil {
		g.log.LogError(err, "Failed to record last login", "user_id", user.ID)
	}
	return g.issue(user)
}

// CurrentUser resolves a session token into its account
func (g *Gate) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	id, err := parseUserID(claims.UserID)
	if err != nil {
		return nil, jwt.ErrInvalidToken
	}
	user, err := g.repo.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := g.IsApproved(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotApproved
	}
	return user, nil
}

// CurrentParticipant resolves a session token into the participant the
// relay announces on join
func (g *Gate) CurrentParticipant(ctx context.Context, token string) (*models.Participant, error) {
	user, err := g.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	p := user.Participant()
	return &p, nil
}

// UpdateProfile changes the display name and avatar. Connections pick up
// the change on their next join.
func (g *Gate) UpdateProfile(ctx context.Context, userID, displayName, avatarRef string) (*models.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidProfile
	}
	id, err := parseUserID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	user, err := g.repo.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.DisplayName = displayName
	user.AvatarRef = strings.TrimSpace(avatarRef)
	if err := g.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (g *Gate) issue(user *models.User) (*Session, error) {
	token, err := g.tokens.GenerateToken(strconv.FormatUint(uint64(user.ID), 10), user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{
		Token:     token,
		ExpiresAt: g.now().Add(g.tokens.Expiry()),
		User:      user,
	}, nil
}

func parseUserID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
