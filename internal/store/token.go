package store

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"

	"gorm.io/gorm"
)

// CreateTokenPair persists an access token and its refresh token together.
func (s *Store) CreateTokenPair(
	ctx context.Context,
	access *models.AccessToken,
	refresh *models.RefreshToken,
) (err error) {
	ctx, span := s.startSpan(ctx, "CreateTokenPair")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createTokenPair(tx, access, refresh)
	})
}

func createTokenPair(tx *gorm.DB, access *models.AccessToken, refresh *models.RefreshToken) error {
	if err := tx.Create(access).Error; err != nil {
		return err
	}
	refresh.AccessTokenID = access.ID
	return tx.Create(refresh).Error
}

// GetAccessTokenByHash looks up an access token by the hash of its raw value.
func (s *Store) GetAccessTokenByHash(
	ctx context.Context,
	tokenHash string,
) (_ *models.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "GetAccessTokenByHash")
	defer func() { endSpan(span, err) }()

	var t models.AccessToken
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		First(&t).Error; err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

// GetAccessTokenByID looks up an access token by primary key.
func (s *Store) GetAccessTokenByID(
	ctx context.Context,
	id string,
) (_ *models.AccessToken, err error) {
	ctx, span := s.startSpan(ctx, "GetAccessTokenByID")
	defer func() { endSpan(span, err) }()

	var t models.AccessToken
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

// GetRefreshTokenByHash looks up a refresh token by the hash of its raw value.
func (s *Store) GetRefreshTokenByHash(
	ctx context.Context,
	tokenHash string,
) (_ *models.RefreshToken, err error) {
	ctx, span := s.startSpan(ctx, "GetRefreshTokenByHash")
	defer func() { endSpan(span, err) }()

	var t models.RefreshToken
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		First(&t).Error; err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

// ListRefreshTokensByFamily returns every refresh token of a family, oldest first.
func (s *Store) ListRefreshTokensByFamily(
	ctx context.Context,
	familyID string,
) (_ []models.RefreshToken, err error) {
	ctx, span := s.startSpan(ctx, "ListRefreshTokensByFamily")
	defer func() { endSpan(span, err) }()

	var tokens []models.RefreshToken
	err = s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at ASC").
		Find(&tokens).Error
	return tokens, err
}

// RotateRefreshToken revokes old and its paired access token, then persists
// the replacement pair, in a single transaction. Revoking old is a
// conditional update; when old was already revoked nothing is written and
// ErrRefreshTokenAlreadyUsed is returned.
func (s *Store) RotateRefreshToken(
	ctx context.Context,
	old *models.RefreshToken,
	access *models.AccessToken,
	refresh *models.RefreshToken,
) (err error) {
	ctx, span := s.startSpan(ctx, "RotateRefreshToken")
	defer func() { endSpan(span, err) }()

	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", old.ID).
			Update("revoked_at", now)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrRefreshTokenAlreadyUsed
		}

		if err := tx.Model(&models.AccessToken{}).
			Where("id = ? AND revoked_at IS NULL", old.AccessTokenID).
			Update("revoked_at", now).Error; err != nil {
			return err
		}

		return createTokenPair(tx, access, refresh)
	})
}

// FamilyRevocation summarizes what RevokeFamily changed.
type FamilyRevocation struct {
	AccessTokens  int64
	RefreshTokens int64
}

// RevokeFamily revokes every refresh token sharing familyID together with
// the access tokens issued alongside them.
func (s *Store) RevokeFamily(
	ctx context.Context,
	familyID string,
) (_ FamilyRevocation, err error) {
	ctx, span := s.startSpan(ctx, "RevokeFamily")
	defer func() { endSpan(span, err) }()

	now := time.Now()
	var result FamilyRevocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		familyAccessIDs := tx.Model(&models.RefreshToken{}).
			Select("access_token_id").
			Where("family_id = ?", familyID)

		access := tx.Model(&models.AccessToken{}).
			Where("revoked_at IS NULL AND id IN (?)", familyAccessIDs).
			Update("revoked_at", now)
		if access.Error != nil {
			return access.Error
		}

		refresh := tx.Model(&models.RefreshToken{}).
			Where("family_id = ? AND revoked_at IS NULL", familyID).
			Update("revoked_at", now)
		if refresh.Error != nil {
			return refresh.Error
		}

		result = FamilyRevocation{
			AccessTokens:  access.RowsAffected,
			RefreshTokens: refresh.RowsAffected,
		}
		return nil
	})
	return result, err
}

// RevokeAccessToken sets the revocation timestamp of one access token.
// It reports whether the token changed state.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "RevokeAccessToken")
	defer func() { endSpan(span, err) }()

	result := s.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", time.Now())
	return result.RowsAffected > 0, result.Error
}

// RevokeRefreshToken sets the revocation timestamp of one refresh token.
// It reports whether the token changed state.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "RevokeRefreshToken")
	defer func() { endSpan(span, err) }()

	result := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", time.Now())
	return result.RowsAffected > 0, result.Error
}

// TouchAccessToken records when an access token was last presented.
func (s *Store) TouchAccessToken(ctx context.Context, id string, at time.Time) (err error) {
	ctx, span := s.startSpan(ctx, "TouchAccessToken")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

// CountActiveTokens counts unrevoked, unexpired tokens of the given type
// ("access" or "refresh").
func (s *Store) CountActiveTokens(ctx context.Context, tokenType string) (_ int64, err error) {
	ctx, span := s.startSpan(ctx, "CountActiveTokens")
	defer func() { endSpan(span, err) }()

	var model any = &models.AccessToken{}
	if tokenType == models.TokenTypeRefresh {
		model = &models.RefreshToken{}
	}

	var count int64
	err = s.db.WithContext(ctx).Model(model).
		Where("revoked_at IS NULL AND expires_at > ?", time.Now()).
		Count(&count).Error
	return count, err
}
