//go:build wireinject
// +build wireinject

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/config"
)

func initSession(cfg config.DeviceConfig, log zerolog.Logger) (*Session, func(), error) {
	wire.Build(
		newSession,
		provideClient,
		provideTransport,
	)
	return nil, nil, nil // wire will generate the result
}
