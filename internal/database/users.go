/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var propertyId sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(&user.Id, &user.ExternalId, &user.Email, &user.Name, &user.BankId,
		&user.WalletAddress, &propertyId, &user.PropertyAddress, &user.PropertyValue,
		&user.PropertyCurrency, &user.ValuationConfidence, &user.PropertyVerified, &verifiedAt,
		&user.RegistrySnapshot, &user.DeedContractAddress, &user.DeedTokenId,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	user.PropertyId = propertyId.String
	user.VerifiedAt = timePtr(verifiedAt)
	return &user, nil
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	if params.ExternalId == "" || params.Email == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "external id and email are required")
	}

	userId := uuid.New().String()
	now := s.now()

	_, err := s.db.ExecContext(ctx, queryInsertUser, userId, params.ExternalId,
		strings.ToLower(params.Email), params.Name, params.BankId, params.WalletAddress, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.ErrInvalidRequest, "user with external id %s or email %s already exists",
				params.ExternalId, params.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	zap.L().Info("User created",
		zap.String("user_id", userId),
		zap.String("external_id", params.ExternalId),
		zap.String("email", params.Email))

	return s.GetUserById(ctx, userId)
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

func (s *Service) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrUserNotFound, "user %s", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserById, userId)
}

func (s *Service) GetUserByExternalId(ctx context.Context, externalId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByExternalId, externalId)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByEmail, strings.ToLower(email))
}

func (s *Service) LinkWallet(ctx context.Context, userId, walletAddress string) error {
	if walletAddress == "" {
		return errs.New(errs.ErrInvalidRequest, "wallet address is required")
	}
	return s.updateUser(ctx, userId, queryLinkWallet, walletAddress, s.now(), userId)
}

func (s *Service) RecordDeed(ctx context.Context, userId string, deed models.Deed) error {
	return s.updateUser(ctx, userId, queryRecordDeed, deed.ContractAddress, deed.TokenId, s.now(), userId)
}

func (s *Service) updateUser(ctx context.Context, userId, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", userId, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return errs.New(errs.ErrUserNotFound, "user %s", userId)
	}
	return nil
}
