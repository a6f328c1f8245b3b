package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/charlie/backend/internal/assembler"
	"github.com/wonny/charlie/backend/internal/audit"
	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/distill"
	"github.com/wonny/charlie/backend/internal/export"
	"github.com/wonny/charlie/backend/internal/fetcher"
	"github.com/wonny/charlie/backend/internal/labels"
	"github.com/wonny/charlie/backend/internal/normalize"
	"github.com/wonny/charlie/backend/internal/quality"
	"github.com/wonny/charlie/backend/internal/runconfig"
	"github.com/wonny/charlie/backend/internal/technicals"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// DefaultWorkers is the ticker fan-out when RunParams.Workers is zero
const DefaultWorkers = 4

// knownIssuers seeds company names for the default universe; the relevance check
// matches on ticker alone when a name is missing.
var knownIssuers = map[string]string{
	"AAPL": "Apple",
	"NVDA": "NVIDIA",
	"MSFT": "Microsoft",
	"AMZN": "Amazon",
	"META": "Meta Platforms",
}

// Deps are the collaborators of a Pipeline. Ingestor, Distiller and Exporter are optional.
type Deps struct {
	Store     *contracts.Store
	Profile   *runconfig.Profile
	Ingestor  *fetcher.Ingestor
	Distiller distill.Distiller
	Exporter  *export.Exporter
	Logger    *logger.Logger
}

// TickerResult is the typed outcome of one ticker task
type TickerResult struct {
	Ticker    string                      `json:"ticker"`
	Samples   int                         `json:"samples"`
	Labels    int                         `json:"labels"`
	Theses    int                         `json:"theses"`
	Artifacts []string                    `json:"artifacts,omitempty"`
	Coverage  *contracts.CoverageSnapshot `json:"coverage,omitempty"`
	Stages    []contracts.StageResult     `json:"stages"`
	Err       error                       `json:"-"`
}

// RunSummary is the fold of every TickerResult
type RunSummary struct {
	RunID      int64               `json:"run_id"`
	RunName    string              `json:"run_name"`
	RunType    string              `json:"run_type"`
	Status     string              `json:"status"`
	Dates      int                 `json:"dates"`
	Succeeded  []string            `json:"succeeded"`
	Failed     map[string]string   `json:"failed,omitempty"`
	Samples    int                 `json:"samples"`
	Labels     int                 `json:"labels"`
	Theses     int                 `json:"theses"`
	Artifacts  map[string][]string `json:"artifacts"`
	Audit      map[string]int      `json:"audit,omitempty"`
	Results    []TickerResult      `json:"results"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Pipeline fans a run out over tickers and folds the per-ticker results.
// ⭐ SSOT: pipeline_run 생성/종료는 여기서만
type Pipeline struct {
	store      *contracts.Store
	profile    *runconfig.Profile
	ingestor   *fetcher.Ingestor
	normalizer *normalize.Normalizer
	assembler  *assembler.Assembler
	labeler    *labels.Labeler
	distiller  *distill.Runner
	exporter   *export.Exporter
	gate       *quality.Gate
	audit      *audit.Recorder
	logger     *logger.Logger
	now        func() time.Time
}

// New wires a pipeline from its collaborators
func New(d Deps) *Pipeline {
	profile := d.Profile
	if profile == nil {
		profile = runconfig.Default()
	}
	rec := audit.NewRecorder(d.Store.Audit, d.Logger)

	p := &Pipeline{
		store:      d.Store,
		profile:    profile,
		ingestor:   d.Ingestor,
		normalizer: normalize.NewNormalizer(d.Store.News, rec, d.Logger),
		assembler:  assembler.New(d.Store, profile.Quotas, rec, d.Logger),
		labeler:    labels.NewLabeler(d.Store.Prices, d.Store.Samples, d.Store.Labels, d.Logger),
		exporter:   d.Exporter,
		gate:       quality.NewGate(quality.DefaultConfig()),
		audit:      rec,
		logger:     d.Logger.Component("pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if d.Distiller != nil {
		p.distiller = distill.NewRunner(d.Distiller, d.Store.Samples, d.Store.Theses, rec,
			profile.Distill.TargetSamples, profile.Distill.BatchSize, d.Logger)
	}
	return p
}

// Run validates params, records the run, processes every ticker and finalizes the run row.
// Only invalid params (and failure to create the run row) are returned as errors;
// per-ticker failures are reported in the summary.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (*RunSummary, error) {
	plan, err := params.Resolve(p.profile)
	if err != nil {
		return nil, err
	}

	configHash, err := runconfig.Hash(p.profile)
	if err != nil {
		return nil, fmt.Errorf("hash run profile: %w", err)
	}

	run := &contracts.PipelineRun{
		RunName:    NewRunName(),
		RunType:    plan.RunType,
		Status:     contracts.RunStatusRunning,
		Seed:       plan.Seed,
		Tickers:    plan.Tickers,
		StartDate:  plan.StartDate,
		EndDate:    plan.EndDate,
		ConfigHash: configHash,
		Artifacts:  map[string][]string{},
		StartedAt:  p.now(),
	}
	runID, err := p.store.Runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	run.ID = runID

	log := p.logger.Run(run.ID, run.RunName)
	log.WithFields(map[string]interface{}{
		"run_type": plan.RunType,
		"tickers":  strings.Join(plan.Tickers, ","),
		"dates":    len(plan.Dates),
		"seed":     plan.Seed,
	}).Info("Run started")

	runCtx, tally := audit.WithRun(ctx, run.ID)
	results := p.fanOut(runCtx, plan, run.ID)

	summary := Join(results)
	summary.RunID = run.ID
	summary.RunName = run.RunName
	summary.RunType = run.RunType
	summary.Dates = len(plan.Dates)
	summary.StartedAt = run.StartedAt
	summary.FinishedAt = p.now()
	summary.Audit = tally.Counts()

	if err := p.finalize(context.WithoutCancel(ctx), run, summary); err != nil {
		log.WithError(err).Error("Failed to finalize run record")
	}

	log.WithFields(map[string]interface{}{
		"status":    summary.Status,
		"succeeded": len(summary.Succeeded),
		"failed":    len(summary.Failed),
		"samples":   summary.Samples,
		"labels":    summary.Labels,
	}).Info("Run finished")

	return summary, nil
}

// NewRunName returns charlie_run_<first 8 hex chars of a uuid>
func NewRunName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "charlie_run_" + id[:8]
}

// fanOut runs one task per ticker on a bounded worker pool
func (p *Pipeline) fanOut(ctx context.Context, plan *Plan, runID int64) []TickerResult {
	workers := plan.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(plan.Tickers) {
		workers = len(plan.Tickers)
	}

	results := make([]TickerResult, 0, len(plan.Tickers))
	resultCh := make(chan TickerResult, len(plan.Tickers))

	var wg sync.WaitGroup
	tickerCh := make(chan string, len(plan.Tickers))

	// Start workers
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.tickerWorker(ctx, workerID, plan, runID, tickerCh, resultCh)
		}(i)
	}

	for _, t := range plan.Tickers {
		tickerCh <- t
	}
	close(tickerCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		results = append(results, r)
	}

	order := make(map[string]int, len(plan.Tickers))
	for i, t := range plan.Tickers {
		order[t] = i
	}
	sort.Slice(results, func(i, j int) bool { return order[results[i].Ticker] < order[results[j].Ticker] })
	return results
}

func (p *Pipeline) tickerWorker(ctx context.Context, workerID int, plan *Plan, runID int64, tickerCh <-chan string, resultCh chan<- TickerResult) {
	for ticker := range tickerCh {
		select {
		case <-ctx.Done():
			resultCh <- TickerResult{Ticker: ticker, Err: ctx.Err()}
			continue
		default:
		}

		r := p.ProcessTicker(ctx, ticker, plan, runID)
		if r.Err != nil {
			p.logger.Ticker(ticker).WithError(r.Err).WithField("worker", workerID).Error("Ticker failed")
		}
		resultCh <- r
	}
}

// ProcessTicker runs every stage for one ticker.
// Ingest and distill degrade on failure; asset, assemble, label and export failures fail the ticker.
func (p *Pipeline) ProcessTicker(ctx context.Context, ticker string, plan *Plan, runID int64) TickerResult {
	res := TickerResult{Ticker: ticker}
	log := p.logger.Ticker(ticker)

	asset, err := p.store.Assets.Upsert(ctx, ticker, knownIssuers[ticker])
	if err != nil {
		res.Err = fmt.Errorf("upsert asset: %w", err)
		return res
	}

	// 1. INGEST
	if p.ingestor != nil && !plan.SkipFetch {
		p.stage(&res, contracts.StageIngest, func() (int, error) {
			stats, err := p.ingestor.IngestTicker(ctx, asset, plan.Dates)
			return stats.RawNews + stats.PriceWindows, err
		})
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
	}

	// 2. NORMALIZE
	p.stage(&res, contracts.StageNormalize, func() (int, error) {
		raws, err := p.store.RawNews.ListByAsset(ctx, asset.ID)
		if err != nil {
			return 0, fmt.Errorf("list raw news: %w", err)
		}
		relevant := 0
		for _, d := range plan.Dates {
			stats, err := p.normalizer.NormalizeForDate(ctx, asset, raws, d)
			relevant += stats.Relevant
			if err != nil {
				return relevant, err
			}
		}
		return relevant, nil
	})

	// 3. TECHNICALS
	p.stage(&res, contracts.StageTechnicals, func() (int, error) {
		n := 0
		for _, d := range plan.Dates {
			_, err := technicals.Refresh(ctx, p.store.Prices, asset.ID, d)
			if errors.Is(err, contracts.ErrNotFound) {
				continue
			}
			if err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	// 4. ASSEMBLE ‖ LABEL
	var (
		wg        sync.WaitGroup
		asmStats  assembler.Stats
		asmErr    error
		points    []labels.LabelPoint
		labelErr  error
		asmStart  = time.Now()
		asmMillis int64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		asmStats, asmErr = p.assembler.AssembleAsset(ctx, asset, plan.Dates, assembler.Options{
			Seed:           plan.Seed,
			VariationCount: plan.VariationCount,
			TokenBudget:    plan.TokenBudget,
			RunID:          &runID,
		})
		asmMillis = time.Since(asmStart).Milliseconds()
	}()
	go func() {
		defer wg.Done()
		windows, err := p.store.Prices.ListByAsset(ctx, asset.ID)
		if err != nil {
			labelErr = fmt.Errorf("load price history: %w", err)
			return
		}
		points = labels.Generate(labels.SeriesFromWindows(windows))
	}()
	wg.Wait()

	res.Samples = asmStats.Samples
	res.Stages = append(res.Stages, stageResult(contracts.StageAssemble, asmStats.Samples, asmMillis, asmErr))
	if asmErr != nil {
		res.Err = fmt.Errorf("assemble: %w", asmErr)
		return res
	}

	p.stage(&res, contracts.StageLabel, func() (int, error) {
		if labelErr != nil {
			return 0, labelErr
		}
		written, _, err := p.labeler.Attach(ctx, asset.ID, points)
		res.Labels = written
		return written, err
	})
	if err := lastError(res.Stages); err != nil {
		res.Err = fmt.Errorf("label: %w", err)
		return res
	}

	// 5. DISTILL
	if p.distiller != nil && !plan.SkipDistill {
		p.stage(&res, contracts.StageDistill, func() (int, error) {
			stats, err := p.distiller.RunAsset(ctx, asset)
			res.Theses = stats.Written
			return stats.Written, err
		})
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
	}

	coverage, err := p.gate.CheckAsset(ctx, p.store.Samples, asset, plan.EndDate)
	if err != nil {
		log.WithError(err).Warn("Coverage check failed")
	} else {
		res.Coverage = coverage
	}

	// 6. EXPORT
	if p.exporter != nil && !plan.SkipExport {
		p.stage(&res, contracts.StageExport, func() (int, error) {
			art, err := p.exporter.ExportAsset(ctx, asset)
			if err != nil {
				return 0, err
			}
			res.Artifacts = art.URIs()
			return art.Rows, nil
		})
		if err := lastError(res.Stages); err != nil {
			res.Err = fmt.Errorf("export: %w", err)
			return res
		}
	}

	log.WithFields(map[string]interface{}{
		"samples": res.Samples,
		"labels":  res.Labels,
		"theses":  res.Theses,
	}).Info("Ticker completed")

	return res
}

// stage times fn and appends its StageResult
func (p *Pipeline) stage(res *TickerResult, s contracts.Stage, fn func() (int, error)) {
	start := time.Now()
	n, err := fn()
	sr := stageResult(s, n, time.Since(start).Milliseconds(), err)
	res.Stages = append(res.Stages, sr)

	if err != nil {
		p.logger.Ticker(res.Ticker).Stage(s.String()).WithError(err).Warn("Stage failed")
	}
}

func stageResult(s contracts.Stage, n int, ms int64, err error) contracts.StageResult {
	sr := contracts.StageResult{Stage: s, Success: err == nil, OutputCount: n, DurationMs: ms}
	if err != nil {
		sr.Error = err.Error()
	}
	return sr
}

func lastError(stages []contracts.StageResult) error {
	if len(stages) == 0 {
		return nil
	}
	last := stages[len(stages)-1]
	if last.Success {
		return nil
	}
	return errors.New(last.Error)
}

// Join folds whatever ticker results completed into a summary.
// All succeeded → success, none succeeded → failed, otherwise partial.
func Join(results []TickerResult) *RunSummary {
	s := &RunSummary{
		Succeeded: []string{},
		Failed:    map[string]string{},
		Artifacts: map[string][]string{},
		Results:   results,
	}

	for _, r := range results {
		s.Samples += r.Samples
		s.Labels += r.Labels
		s.Theses += r.Theses
		if len(r.Artifacts) > 0 {
			s.Artifacts[r.Ticker] = append(s.Artifacts[r.Ticker], r.Artifacts...)
		}
		if r.Err != nil {
			s.Failed[r.Ticker] = r.Err.Error()
			continue
		}
		s.Succeeded = append(s.Succeeded, r.Ticker)
	}

	switch {
	case len(results) > 0 && len(s.Failed) == 0:
		s.Status = contracts.RunStatusSuccess
	case len(s.Succeeded) == 0:
		s.Status = contracts.RunStatusFailed
	default:
		s.Status = contracts.RunStatusPartial
	}
	return s
}

// finalize writes status, artifacts and summary back to the run row
func (p *Pipeline) finalize(ctx context.Context, run *contracts.PipelineRun, summary *RunSummary) error {
	finished := summary.FinishedAt
	run.Status = summary.Status
	run.FinishedAt = &finished
	run.Artifacts = summary.Artifacts

	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("unmarshal summary: %w", err)
	}
	delete(m, "results")
	m["stages"] = stageTable(summary.Results)
	run.Summary = m

	return p.store.Runs.Update(ctx, run)
}

// stageTable keeps a compact per-ticker stage record for the run row
func stageTable(results []TickerResult) map[string][]contracts.StageResult {
	out := make(map[string][]contracts.StageResult, len(results))
	for _, r := range results {
		out[r.Ticker] = r.Stages
	}
	return out
}
