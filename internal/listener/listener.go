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

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Poller reconciles every pending payment against the settlement provider.
type Poller interface {
	Poll(ctx context.Context) error
}

// SettlementListenerConfig contains configuration for SettlementListener
type SettlementListenerConfig struct {
	Poller          Poller
	PollingInterval time.Duration
}

// SettlementListener drives reconciliation by polling. Confirmations that
// also arrive through the webhook are tolerated as duplicates.
type SettlementListener struct {
	poller          Poller
	pollingInterval time.Duration

	mutex    sync.Mutex
	polls    int
	failures int

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewSettlementListener(cfg SettlementListenerConfig) *SettlementListener {
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SettlementListener{
		poller:          cfg.Poller,
		pollingInterval: interval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start runs a recovery pass over payments left pending by a previous run,
// then polls in the background until Stop or ctx is done.
func (l *SettlementListener) Start(ctx context.Context) error {
	zap.L().Info("Starting settlement listener")

	if err := l.poll(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("startup recovery interrupted: %w", ctx.Err())
		}
		zap.L().Warn("Startup recovery finished with errors", zap.Error(err))
	}

	go l.pollLoop(ctx)

	zap.L().Info("Settlement listener started successfully",
		zap.Duration("polling_interval", l.pollingInterval))
	return nil
}

// Stop gracefully stops the listener and waits for the loop to exit
func (l *SettlementListener) Stop() {
	zap.L().Info("Stopping settlement listener")
	l.stopOnce.Do(func() { close(l.stopChan) })
	<-l.doneChan
	zap.L().Info("Settlement listener stopped")
}

func (l *SettlementListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.poll(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("Settlement poll failed",
					zap.Int("errors", len(multierr.Errors(err))),
					zap.Error(err))
			}
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *SettlementListener) poll(ctx context.Context) error {
	err := l.poller.Poll(ctx)

	l.mutex.Lock()
	l.polls++
	if err != nil {
		l.failures++
	}
	l.mutex.Unlock()
	return err
}

// Stats returns how many polls ran and how many reported errors.
func (l *SettlementListener) Stats() (polls, failures int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.polls, l.failures
}
