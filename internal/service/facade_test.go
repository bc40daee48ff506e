package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/repository"
)

func TestFacade(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.store.AddFromURI(ctx, rfcHOTP)
	require.NoError(t, err)
	assert.Equal(t, "Example", first.Issuer)
	assert.Equal(t, otp.HOTP, first.Kind)

	second, err := f.store.AddFromURI(ctx, rfcTOTP)
	require.NoError(t, err)

	list, err := f.store.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Account, list[0].Account)
	assert.Equal(t, "ACME:bob", list[0].UID)

	code, err := f.store.GenerateCode(ctx, first.Account)
	require.NoError(t, err)
	assert.Equal(t, "755224", code.Value)

	require.NoError(t, f.store.MoveToken(ctx, 0, 1))
	list, err = f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Account, list[0].Account)

	require.NoError(t, f.store.RemoveToken(ctx, first.Account))
	_, err = f.store.GenerateCode(ctx, first.Account)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.store.AddFromURI(ctx, "http://example.com")
	assert.Error(t, err)
}
