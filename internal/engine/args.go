package engine

import (
	"strconv"

	"xmt/internal/config"
	"xmt/internal/stage"
)

// processorFlags builds the processor arguments that follow "-g GRAMMAR".
func processorFlags(desc stage.Descriptor, cfg *config.StageConfig) []string {
	var args []string
	if desc.Role == stage.RoleTransfer || desc.Role == stage.RoleGenerate {
		// transfer and generation read MRSs, one per line
		args = append(args, "-e")
	}
	args = append(args, desc.Flags...)
	if desc.Diagnostics {
		args = append(args, "--tsdb-stdout")
	}
	if cfg.ResultLimit >= 0 {
		args = append(args, "-n", strconv.Itoa(cfg.ResultLimit))
	}
	if cfg.Timeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(int(cfg.Timeout.Seconds())))
	}
	if desc.Accepts(config.KeyMaxChart) && cfg.MaxChartMegabytes > 0 {
		args = append(args, "--max-chart-megabytes", strconv.Itoa(cfg.MaxChartMegabytes))
	}
	if desc.Accepts(config.KeyMaxUnpack) && cfg.MaxUnpackMegabytes > 0 {
		args = append(args, "--max-unpack-megabytes", strconv.Itoa(cfg.MaxUnpackMegabytes))
	}
	if desc.Accepts(config.KeyYYMode) && cfg.YYMode {
		args = append(args, "-y")
	}
	if desc.Role == stage.RoleGenerate && !cfg.OnlySubsuming {
		args = append(args, "--disable-subsumption-test")
	}
	return args
}
