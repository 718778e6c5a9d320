package store

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"

	"gorm.io/gorm"
)

// CreateAuthorizationCode persists a freshly minted code.
func (s *Store) CreateAuthorizationCode(
	ctx context.Context,
	code *models.AuthorizationCode,
) (err error) {
	ctx, span := s.startSpan(ctx, "CreateAuthorizationCode")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Create(code).Error
}

// GetAuthorizationCodeByHash looks up a code by the hash of its raw value.
func (s *Store) GetAuthorizationCodeByHash(
	ctx context.Context,
	codeHash string,
) (_ *models.AuthorizationCode, err error) {
	ctx, span := s.startSpan(ctx, "GetAuthorizationCodeByHash")
	defer func() { endSpan(span, err) }()

	var code models.AuthorizationCode
	if err := s.db.WithContext(ctx).
		Where("code_hash = ?", codeHash).
		First(&code).Error; err != nil {
		return nil, translateError(err)
	}
	return &code, nil
}

// RedeemAuthorizationCode claims a code and persists the token pair issued
// for it in a single transaction. The claim is a conditional update: when
// another request marked the code used first, nothing is written and
// ErrAuthCodeAlreadyUsed is returned.
func (s *Store) RedeemAuthorizationCode(
	ctx context.Context,
	codeID uint,
	access *models.AccessToken,
	refresh *models.RefreshToken,
) (err error) {
	ctx, span := s.startSpan(ctx, "RedeemAuthorizationCode")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimAuthorizationCode(tx, codeID, time.Now()); err != nil {
			return err
		}
		return createTokenPair(tx, access, refresh)
	})
}

func claimAuthorizationCode(tx *gorm.DB, codeID uint, at time.Time) error {
	result := tx.Model(&models.AuthorizationCode{}).
		Where("id = ? AND used_at IS NULL", codeID).
		Update("used_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAuthCodeAlreadyUsed
	}
	return nil
}
