package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/requestdata"
)

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenService(logger.NewNop(), "secret")
	user := uuid.New()
	tok, err := ts.IssueToken(user, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := ts.SetContextFromToken(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	if got := requestdata.UserID(ctx); got != user {
		t.Errorf("user = %s, want %s", got, user)
	}
}

func TestTokenRejected(t *testing.T) {
	ts := NewTokenService(logger.NewNop(), "secret")
	other := NewTokenService(logger.NewNop(), "other-secret")
	foreign, _ := other.IssueToken(uuid.New(), time.Hour)
	expired, _ := ts.IssueToken(uuid.New(), -time.Minute)

	for name, tok := range map[string]string{
		"empty":       "",
		"garbage":     "not.a.token",
		"wrong key":   foreign,
		"expired":     expired,
	} {
		if _, err := ts.SetContextFromToken(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}
