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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mortgage-settlement-go/internal/common"
	"mortgage-settlement-go/internal/config"
	"mortgage-settlement-go/internal/listener"
	"mortgage-settlement-go/internal/scheduler"
	"mortgage-settlement-go/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting mortgage settlement engine",
		zap.String("accrual_convention", cfg.Accrual.Convention),
		zap.String("lock_backend", cfg.Lock.Backend))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// Reconciliation poller; also recovers payments left pending by a restart.
	poller := listener.NewSettlementListener(listener.SettlementListenerConfig{
		Poller:          services.Tracker,
		PollingInterval: cfg.Settlement.PollingInterval,
	})
	if err := poller.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start settlement listener", zap.Error(err))
	}

	cycle, err := scheduler.New(services.Orchestrator, cfg.Accrual.Interval)
	if err != nil {
		zap.L().Fatal("Failed to create scheduler", zap.Error(err))
	}
	if err := cycle.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start scheduler", zap.Error(err))
	}

	server := webhook.NewServer(cfg.Webhook, services.Tracker, services.Loans)
	server.Start()

	zap.L().Info("Engine running", zap.String("webhook_addr", cfg.Webhook.Addr))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Webhook shutdown failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			poller.Stop()
		}()
		go func() {
			defer wg.Done()
			if err := cycle.Shutdown(); err != nil {
				zap.L().Warn("Scheduler shutdown failed", zap.Error(err))
			}
		}()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Engine stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
