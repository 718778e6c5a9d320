package store

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"

	"gorm.io/gorm"
)

// CreateClient inserts a new client.
func (s *Store) CreateClient(ctx context.Context, client *models.OAuthClient) (err error) {
	ctx, span := s.startSpan(ctx, "CreateClient")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Create(client).Error
}

// GetClient looks up a client by its public identifier.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *models.OAuthClient, err error) {
	ctx, span := s.startSpan(ctx, "GetClient")
	defer func() { endSpan(span, err) }()

	var client models.OAuthClient
	if err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		First(&client).Error; err != nil {
		return nil, translateError(err)
	}
	return &client, nil
}

// UpdateClient saves every column of client.
func (s *Store) UpdateClient(ctx context.Context, client *models.OAuthClient) (err error) {
	ctx, span := s.startSpan(ctx, "UpdateClient")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Save(client).Error
}

// ListClients returns a page of clients, newest first. Search matches the
// client name or identifier.
func (s *Store) ListClients(
	ctx context.Context,
	params PaginationParams,
) (_ []models.OAuthClient, _ PaginationResult, err error) {
	ctx, span := s.startSpan(ctx, "ListClients")
	defer func() { endSpan(span, err) }()

	query := s.db.WithContext(ctx).Model(&models.OAuthClient{})
	if params.Search != "" {
		like := "%" + params.Search + "%"
		query = query.Where("name LIKE ? OR client_id LIKE ?", like, like)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	var clients []models.OAuthClient
	offset := (params.Page - 1) * params.PageSize
	if err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(params.PageSize).
		Find(&clients).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	return clients, CalculatePagination(total, params.Page, params.PageSize), nil
}

// ClientRevocation summarizes what RevokeClient changed.
type ClientRevocation struct {
	AccessTokens  int64
	RefreshTokens int64
}

// RevokeClient deactivates a client and revokes every token issued to it,
// in one transaction.
func (s *Store) RevokeClient(
	ctx context.Context,
	clientID string,
	at time.Time,
) (_ ClientRevocation, err error) {
	ctx, span := s.startSpan(ctx, "RevokeClient")
	defer func() { endSpan(span, err) }()

	var result ClientRevocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OAuthClient{}).
			Where("client_id = ?", clientID).
			Updates(map[string]any{"is_active": false, "revoked_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}

		var err error
		result.AccessTokens, result.RefreshTokens, err = revokeAllForClient(tx, clientID, at)
		return err
	})
	return result, err
}

// RevokeAllForClient revokes every active access and refresh token of a
// client without touching the client record.
func (s *Store) RevokeAllForClient(
	ctx context.Context,
	clientID string,
	at time.Time,
) (_ ClientRevocation, err error) {
	ctx, span := s.startSpan(ctx, "RevokeAllForClient")
	defer func() { endSpan(span, err) }()

	var result ClientRevocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result.AccessTokens, result.RefreshTokens, err = revokeAllForClient(tx, clientID, at)
		return err
	})
	return result, err
}

func revokeAllForClient(tx *gorm.DB, clientID string, at time.Time) (int64, int64, error) {
	access := tx.Model(&models.AccessToken{}).
		Where("client_id = ? AND revoked_at IS NULL", clientID).
		Update("revoked_at", at)
	if access.Error != nil {
		return 0, 0, access.Error
	}
	refresh := tx.Model(&models.RefreshToken{}).
		Where("client_id = ? AND revoked_at IS NULL", clientID).
		Update("revoked_at", at)
	if refresh.Error != nil {
		return 0, 0, refresh.Error
	}
	return access.RowsAffected, refresh.RowsAffected, nil
}
