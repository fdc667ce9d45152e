package app

import (
	"proxima/internal/config"
	"proxima/internal/inference"
)

// BootstrapFromConfig builds the bootstrap settings from the analysis section
func BootstrapFromConfig(cfg config.AnalysisConfig) inference.BootstrapConfig {
	bs := inference.DefaultBootstrapConfig()
	if cfg.BootstrapDraws > 0 {
		bs.N = cfg.BootstrapDraws
	}
	if cfg.MaxBootstrapDraws > 0 {
		bs.MaxDraws = cfg.MaxBootstrapDraws
	}
	if cfg.BootstrapWorkers > 0 {
		bs.Workers = cfg.BootstrapWorkers
	}
	if cfg.Alpha > 0 {
		bs.Alpha = cfg.Alpha
	}
	bs.MinSuccessfulFraction = cfg.MinSuccessfulFraction
	bs.Seed = cfg.Seed
	return bs
}
