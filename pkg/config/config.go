package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type (
	// AssistConfig is the root config of the assist application.
	AssistConfig struct {
		Assist     Assist
		Monitoring Monitoring
	}
	Assist struct {
		Api       Api
		Signaling Signaling
		Webrtc    Webrtc
		Debug     bool
	}
	// Api points to the backend that allocates and validates assist codes.
	Api struct {
		Address string `fig:"address" default:"http://localhost:8700"`
	}
	Signaling struct {
		Address string `fig:"address" default:"localhost:8700"`
		// Endpoint is the fixed path suffix of the remote-assistance channel.
		Endpoint          string        `fig:"endpoint" default:"/assist/ws"`
		Secure            bool          `fig:"secure"`
		HeartbeatInterval time.Duration `fig:"heartbeatInterval" default:"5s"`
	}
	Webrtc struct {
		IceServers []IceServer
		IcePorts   struct {
			Min uint16
			Max uint16
		}
		LogLevel int `fig:"logLevel" default:"3"`
	}
	IceServer struct {
		Urls       string `json:"urls,omitempty"`
		Username   string `json:"username,omitempty"`
		Credential string `json:"credential,omitempty"`
	}
	Monitoring struct {
		Port             int    `fig:"port" default:"6601"`
		URLPrefix        string `fig:"urlPrefix"`
		MetricEnabled    bool   `fig:"metricEnabled"`
		ProfilingEnabled bool   `fig:"profilingEnabled"`
	}
)

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }

// AddIceServersEnv merges ICE servers from the environment on top of the
// file-provided ones. TURN entries require both username and credential.
func (w *Webrtc) AddIceServersEnv() error {
	cfg := Webrtc{IceServers: []IceServer{{}, {}, {}, {}, {}}}
	_ = LoadConfigEnv(&cfg)
	for i, ice := range cfg.IceServers {
		if ice.Urls == "" {
			continue
		}
		if strings.HasPrefix(ice.Urls, "turn:") || strings.HasPrefix(ice.Urls, "turns:") {
			if ice.Username == "" || ice.Credential == "" {
				return ErrBadTurnServer
			}
		}
		if i > len(w.IceServers)-1 {
			w.IceServers = append(w.IceServers, ice)
		} else {
			w.IceServers[i] = ice
		}
	}
	return nil
}

func (c *AssistConfig) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Assist.Api.Address, "api", c.Assist.Api.Address, "Assist backend address")
	fs.StringVar(&c.Assist.Signaling.Address, "signal", c.Assist.Signaling.Address, "Rendezvous server address")
	fs.BoolVar(&c.Assist.Debug, "v", c.Assist.Debug, "Verbose logging")
}
