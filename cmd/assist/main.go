package main

import (
	"context"
	goflag "flag"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/config"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/monitoring"
	"github.com/flowpilot/assist/pkg/os"
	"github.com/flowpilot/assist/pkg/service"
	"github.com/flowpilot/assist/pkg/session"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	var (
		conf     config.AssistConfig
		joinCode string
		asHost   bool
	)
	if err := config.LoadConfig(&conf, ""); err != nil {
		if err2 := config.LoadConfigEnv(&conf); err2 != nil {
			logger.Default().Fatal().Err(err).Msg("config load fail")
		}
	}
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.StringVar(&joinCode, "join", "", "join an existing session with the given assist code")
	flag.BoolVar(&asHost, "host", false, "create a new session and print its assist code")
	conf.WithFlags(flag.CommandLine)
	flag.Parse()

	tag := "h"
	if joinCode != "" {
		tag = "g"
	}
	log := logger.NewConsole(conf.Assist.Debug, tag, false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	if err := conf.Assist.Webrtc.AddIceServersEnv(); err != nil {
		log.Fatal().Err(err).Msg("bad ICE server config")
	}
	if !asHost && joinCode == "" {
		log.Fatal().Msg("either --host or --join CODE is required")
	}

	services := service.Group{}
	if conf.Monitoring.MetricEnabled || conf.Monitoring.ProfilingEnabled {
		mon, err := monitoring.New(conf.Monitoring, tag, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring init fail")
		}
		services.Add(mon)
	}
	services.Start()

	manager, err := session.NewManager(conf.Assist, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session manager init fail")
	}
	done := make(chan struct{}, 1)
	manager.OnStatus(func(ev session.StatusEvent) {
		log.Info().Msgf("session status: %v %s", ev.Status, ev.Reason)
		if ev.Status == session.StatusDisconnected {
			done <- struct{}{}
		}
	})
	manager.OnGuest(func(present bool) { log.Info().Msgf("guest present: %v", present) })
	manager.OnTransport(func(ev session.TransportEvent) { log.Info().Msgf("transport: %v", ev.Type) })
	manager.OnSnapshot(func(s api.Snapshot) { log.Info().Msgf("canvas snapshot: %q", s.WorkflowName) })

	ctx := context.Background()
	if asHost {
		code, err := manager.Create(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("create fail")
		}
		log.Info().Msgf("assist code: %s", code)
	} else {
		if err := manager.Join(ctx, joinCode); err != nil {
			log.Fatal().Err(err).Msg("join fail")
		}
	}

	select {
	case <-os.ExpectTermination():
	case <-done:
	}
	manager.Close()
	if err := services.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
