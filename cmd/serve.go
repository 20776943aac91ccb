// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/bridge"
	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/publish"
)

var (
	serveListen   string
	serveReadOnly bool
	serveMQTT     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge the controller to WebSocket, Prometheus and MQTT",
	Long: `Poll the controller continuously and serve the results.

Endpoints:
  /ws        WebSocket: TELEMETRY frames out, SET_* and PING_REQUEST in
  /metrics   Prometheus metrics
  /healthz   200 once the first poll has succeeded

When an MQTT broker is configured (--mqtt or VSENSOR_MQTT_BROKER) every poll
is also published to <prefix>/state or <prefix>/error, and set commands are
accepted on <prefix>/set/{setpoint,mode,hand_setpoint}.

HTTP Basic auth is enabled when VSENSOR_USERNAME and VSENSOR_PASSWORD (or the
bridge section of the config file) are set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Reject all set commands")
	serveCmd.Flags().StringVar(&serveMQTT, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	serveCmd.Flags().Float64Var(&pollInterval, "interval", 0, "Poll interval in seconds (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, cfg, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if serveListen != "" {
		cfg.Bridge.Listen = serveListen
	}
	if serveMQTT != "" {
		cfg.MQTT.Broker = serveMQTT
	}

	interval := cfg.Device.Client().PollInterval
	if pollInterval > 0 {
		interval = secondsToDuration(pollInterval)
	}

	p, err := poller.New(s.Client, poller.Config{Interval: interval, Logger: logger})
	if err != nil {
		return err
	}

	var ctrl bridge.Controller = s.Client
	if serveReadOnly {
		ctrl = nil
	}
	srv, err := bridge.New(p, ctrl, bridge.Config{
		Username: cfg.Bridge.Username,
		Password: cfg.Bridge.Password,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()

		if !serveReadOnly {
			if err := pub.HandleCommands(s.Client); err != nil {
				return fmt.Errorf("mqtt subscribe: %w", err)
			}
		}
		go pub.Run(ctx, p)
	}

	fmt.Printf("vsensor - Bridge\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Listening: %s (poll every %v)\n", cfg.Bridge.Listen, interval)
	if cfg.MQTT.Broker != "" {
		fmt.Printf("MQTT: %s (prefix %s)\n", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go p.Run(ctx)

	err = srv.ListenAndServe(ctx, cfg.Bridge.Listen)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
