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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"regexp"

	"mortgage-settlement-go/internal/common"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/store"

	"go.uber.org/zap"
)

var (
	emailRegex  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	bankIdRegex = regexp.MustCompile(`^\d{8}-?\d{4}$`)
)

func validate(params store.CreateUserParams) error {
	if params.ExternalId == "" {
		return fmt.Errorf("external id cannot be empty")
	}
	if !emailRegex.MatchString(params.Email) {
		return fmt.Errorf("invalid email format: %s", params.Email)
	}
	if len(params.Name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	if params.BankId != "" && !bankIdRegex.MatchString(params.BankId) {
		return fmt.Errorf("bank id must be a personal identity number (YYYYMMDD-XXXX): %s", params.BankId)
	}
	if params.WalletAddress != "" && !walletRegex.MatchString(params.WalletAddress) {
		return fmt.Errorf("invalid wallet address: %s", params.WalletAddress)
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	externalFlag := flag.String("external-id", "", "Identity provider subject (required)")
	nameFlag := flag.String("name", "", "Borrower's full name (required)")
	emailFlag := flag.String("email", "", "Borrower's email address (required)")
	bankIdFlag := flag.String("bank-id", "", "Personal identity number used as registry owner reference")
	walletFlag := flag.String("wallet", "", "Borrower wallet address that receives the disbursement")
	flag.Parse()

	params := store.CreateUserParams{
		ExternalId:    *externalFlag,
		Email:         *emailFlag,
		Name:          *nameFlag,
		BankId:        *bankIdFlag,
		WalletAddress: *walletFlag,
	}
	if err := validate(params); err != nil {
		zap.L().Fatal("Invalid borrower", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ledger, closeLedger, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to open ledger", zap.Error(err))
	}
	defer closeLedger()

	user, err := ledger.CreateUser(ctx, params)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidRequest) {
			zap.L().Fatal("User already exists or is invalid", zap.String("email", params.Email), zap.Error(err))
		}
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	common.PrintHeader("BORROWER CREATED", common.DefaultWidth)
	fmt.Printf("ID:      %s\n", user.Id)
	fmt.Printf("Name:    %s\n", user.Name)
	fmt.Printf("Email:   %s\n", user.Email)
	fmt.Printf("Bank ID: %s\n", user.BankId)
	fmt.Printf("Wallet:  %s\n", user.WalletAddress)
	common.PrintFooter("Run cmd/originate to open a loan for this borrower", common.DefaultWidth)

	if user.WalletAddress == "" {
		zap.L().Warn("Borrower has no linked wallet, origination will be rejected until one is linked",
			zap.String("user_id", user.Id))
	}
	zap.L().Info("User created successfully", zap.String("id", user.Id))
}
