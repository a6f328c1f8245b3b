package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/pipeline"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

type fakeRunner struct {
	status string
	got    pipeline.RunParams
}

func (f *fakeRunner) Run(ctx context.Context, params pipeline.RunParams) (*pipeline.RunSummary, error) {
	f.got = params
	return &pipeline.RunSummary{RunName: "charlie_run_deadbeef", Status: f.status, Failed: map[string]string{}}, nil
}

func newJob(r Runner) *DailyBuildJob {
	cfg := &config.Config{Tickers: []string{"AAPL", "MSFT"}, DailyBuildSchedule: "0 30 6 * * *"}
	j := NewDailyBuildJob(r, cfg, logger.Nop())
	j.now = func() time.Time { return time.Date(2024, 6, 5, 0, 10, 0, 0, time.UTC) }
	return j
}

func TestDailyBuildJob_Run(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
	}{
		{contracts.RunStatusSuccess, false},
		{contracts.RunStatusPartial, false},
		{contracts.RunStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			r := &fakeRunner{status: tt.status}
			err := newJob(r).Run(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			j := newJob(r)
			_ = j.Run(context.Background())
			assert.Contains(t, j.LastReport(), "2024-06-04 charlie_run_deadbeef "+tt.status)
			assert.Equal(t, "2024-06-04", r.got.AsOfDate)
			assert.Equal(t, []string{"AAPL", "MSFT"}, r.got.Tickers)
		})
	}
}

func TestDailyBuildJob_Meta(t *testing.T) {
	j := newJob(&fakeRunner{})
	assert.Equal(t, "daily_build", j.Name())
	assert.Equal(t, "0 30 6 * * *", j.Schedule())
	assert.Equal(t, "2024-06-04", j.AsOfDate())
}
