package service

import (
	"context"

	"github.com/samber/lo"

	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otp"
)

// AddFromURI stores a scanned or typed URI and returns its summary.
func (s *TokenStore) AddFromURI(ctx context.Context, text string) (models.TokenSummary, error) {
	tok, err := s.Add(ctx, text)
	if err != nil {
		return models.TokenSummary{}, err
	}
	return tok.Summary(), nil
}

// ListTokens returns the summaries of all tokens in list order.
func (s *TokenStore) ListTokens(ctx context.Context) ([]models.TokenSummary, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(all, func(t models.Token, _ int) models.TokenSummary {
		return t.Summary()
	}), nil
}

// GenerateCode returns the currently valid code of account.
func (s *TokenStore) GenerateCode(ctx context.Context, account string) (otp.Code, error) {
	codes, err := s.Codes(ctx, account)
	if err != nil {
		return otp.Code{}, err
	}
	return codes[0], nil
}

// MoveToken is Move.
func (s *TokenStore) MoveToken(ctx context.Context, from, to int) error {
	return s.Move(ctx, from, to)
}

// RemoveToken is EraseAccount.
func (s *TokenStore) RemoveToken(ctx context.Context, account string) error {
	return s.EraseAccount(ctx, account)
}
