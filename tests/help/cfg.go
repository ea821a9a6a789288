package help

import (
	"time"

	"github.com/Borislavv/go-ash-query/config"
)

func Cfg() *config.Client {
	c := &config.Client{
		Retry: &config.RetryCfg{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond * 10,
			Multiplier:      2,
		},
		Staleness: &config.StalenessCfg{
			DefaultStaleAfter: time.Minute * 5,
		},
		Eviction: &config.EvictionCfg{
			SweepsPerSec: 100,
		},
		Telemetry: config.TelemetryCfg{
			IsLogsEnabled: true,
			LogsInterval:  time.Second * 5,
		},
	}
	c.AdjustConfig()
	return c
}

func EvictionCfg() *config.Client {
	c := Cfg()
	c.Retry = nil
	c.Staleness = nil
	c.Eviction = &config.EvictionCfg{
		SweepsPerSec: 1000,
	}
	c.AdjustConfig()
	return c
}

func NoRetryCfg() *config.Client {
	c := Cfg()
	c.Retry = nil
	return c
}
