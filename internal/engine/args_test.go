package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xmt/internal/config"
)

func TestProcessorFlags(t *testing.T) {
	tests := []struct {
		stage string
		cfg   config.StageConfig
		want  []string
	}{
		{
			stage: "parse",
			cfg:   config.StageConfig{ResultLimit: 5, Timeout: 60 * time.Second, MaxChartMegabytes: 1200, MaxUnpackMegabytes: 1500},
			want:  []string{"--tsdb-stdout", "-n", "5", "--timeout", "60", "--max-chart-megabytes", "1200", "--max-unpack-megabytes", "1500"},
		},
		{
			stage: "parse",
			cfg:   config.StageConfig{ResultLimit: -1, YYMode: true},
			want:  []string{"--tsdb-stdout", "-y"},
		},
		{
			stage: "transfer",
			cfg:   config.StageConfig{ResultLimit: 2, MaxChartMegabytes: 1200, YYMode: true},
			want:  []string{"-e", "-n", "2"},
		},
		{
			stage: "generate",
			cfg:   config.StageConfig{ResultLimit: -1, Timeout: 10 * time.Second},
			want:  []string{"-e", "--show-realization-mrses", "--timeout", "10", "--disable-subsumption-test"},
		},
		{
			stage: "rephrase",
			cfg:   config.StageConfig{ResultLimit: 0, OnlySubsuming: true},
			want:  []string{"-e", "--show-realization-mrses", "-n", "0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			cfg := tt.cfg
			assert.Equal(t, tt.want, processorFlags(lookup(t, tt.stage), &cfg))
		})
	}
}
