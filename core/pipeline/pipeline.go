// Package pipeline turns a remote source URL into a registered, analyzed
// local track: metadata lookup, download, duration probe, PCM decode, key
// analysis and registration, strictly in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"KeyShift/cache"
	"KeyShift/core/audio"
	"KeyShift/core/keydetect"
	"KeyShift/core/registry"
	"KeyShift/logger"
	"KeyShift/metrics"
	"KeyShift/model"
)

// Analyzer estimates the key of mono samples. keydetect.EstimateKey is the default.
type Analyzer func(samples []float64, sampleRate int) *model.KeyEstimate

// Mirror receives every registered track after the fact.
type Mirror interface {
	Upload(ctx context.Context, entry model.TrackEntry) error
}

// Options configures a Preparer.
type Options struct {
	CacheDir        string
	AllowedHosts    []string
	AnalysisSeconds int
	SampleRate      int
	Timeout         time.Duration // per prepare, 0 disables
	MirrorTimeout   time.Duration
}

// Result is what a successful prepare reports to the client.
type Result struct {
	TrackID  model.TrackID      `json:"trackId"`
	Duration float64            `json:"duration"`
	Key      *model.KeyEstimate `json:"key"`
	Title    string             `json:"title,omitempty"`
}

// Outcome is the single value delivered by PrepareAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// Preparer runs the acquisition pipeline. It is safe for concurrent use;
// concurrent prepares share only the registry, the metadata cache and the
// token table.
type Preparer struct {
	processor audio.Processor
	registry  *registry.Registry
	metaCache cache.MetadataCache
	mirror    Mirror
	analyze   Analyzer
	opts      Options
}

// Option customises a Preparer.
type Option func(*Preparer)

// WithMetadataCache makes stage 1 consult c before running yt-dlp.
func WithMetadataCache(c cache.MetadataCache) Option {
	return func(p *Preparer) { p.metaCache = c }
}

// WithMirror uploads every registered track to m in the background.
func WithMirror(m Mirror) Option {
	return func(p *Preparer) { p.mirror = m }
}

// WithAnalyzer replaces the key analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(p *Preparer) { p.analyze = a }
}

// New creates a Preparer writing downloads into opts.CacheDir.
func New(processor audio.Processor, reg *registry.Registry, opts Options, options ...Option) *Preparer {
	if opts.AnalysisSeconds <= 0 {
		opts.AnalysisSeconds = 60
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 11025
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = 5 * time.Minute
	}
	p := &Preparer{
		processor: processor,
		registry:  reg,
		analyze:   keydetect.EstimateKey,
		opts:      opts,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Prepare runs the full pipeline for sourceURL and blocks until it is done.
func (p *Preparer) Prepare(ctx context.Context, sourceURL string) (*Result, error) {
	return p.run(ctx, sourceURL, nil, nil)
}

// PrepareAsync runs Prepare in its own goroutine and delivers exactly one
// Outcome on the returned channel.
func (p *Preparer) PrepareAsync(ctx context.Context, sourceURL string) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := p.Prepare(ctx, sourceURL)
		out <- Outcome{Result: res, Err: err}
		close(out)
	}()
	return out
}

// PrepareFor runs the pipeline on behalf of client. The result is only
// registered if token is still the client's newest token when the pipeline
// reaches the registration step; otherwise the download is discarded and
// model.ErrSuperseded is returned. observe may be nil.
func (p *Preparer) PrepareFor(ctx context.Context, tokens *Tokens, client string, token uint64, sourceURL string, observe Observer) (*Result, error) {
	var current func() bool
	if tokens != nil {
		current = func() bool { return tokens.IsCurrent(client, token) }
	}
	return p.run(ctx, sourceURL, current, observe)
}

// metadataResult is the output of stage 1.
type metadataResult struct {
	sourceURL string
	meta      *audio.SourceMetadata // nil when the lookup failed
}

// downloadResult is the output of stage 2.
type downloadResult struct {
	metadataResult
	id   model.TrackID
	path string
	size int64
}

// probeResult is the output of stage 3.
type probeResult struct {
	downloadResult
	duration float64
}

// decodeResult is the output of stage 4.
type decodeResult struct {
	probeResult
	samples []float64 // nil when decoding failed
}

// analyzeResult is the output of stage 5.
type analyzeResult struct {
	probeResult
	key *model.KeyEstimate
}

func (p *Preparer) run(ctx context.Context, rawURL string, current func() bool, observe Observer) (res *Result, err error) {
	defer func() { metrics.PreparesTotal.WithLabelValues(outcomeLabel(err)).Inc() }()

	sourceURL, err := ValidateSourceURL(rawURL, p.opts.AllowedHosts)
	if err != nil {
		return nil, err
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	t := &tracker{observe: observe}

	md := p.lookupMetadata(ctx, t, sourceURL)
	dl, err := p.download(ctx, t, md)
	if err != nil {
		return nil, err
	}
	pr := p.probe(ctx, t, dl)
	dec := p.decode(ctx, t, pr)
	an := p.analyzeSamples(t, dec)
	return p.register(t, an, current)
}

// lookupMetadata is stage 1. Failure is absorbed.
func (p *Preparer) lookupMetadata(ctx context.Context, t *tracker, sourceURL string) metadataResult {
	done := t.begin(StageMetadata)
	out := metadataResult{sourceURL: sourceURL}

	if p.metaCache != nil {
		meta, err := p.metaCache.Get(ctx, sourceURL)
		if err != nil {
			logger.Warn("metadata cache read failed", logger.ErrorField(err))
		}
		if meta != nil {
			logger.Debug("metadata cache hit", logger.String("url", sourceURL))
			out.meta = meta
			done(StageSucceeded, nil)
			return out
		}
	}

	meta, err := p.processor.LookupMetadata(ctx, sourceURL)
	if err != nil {
		done(StageFailed, err)
		return out
	}
	out.meta = meta

	if p.metaCache != nil {
		if err := p.metaCache.Set(ctx, sourceURL, meta); err != nil {
			logger.Warn("metadata cache write failed", logger.ErrorField(err))
		}
	}
	done(StageSucceeded, nil)
	return out
}

// download is stage 2, the only fatal stage.
func (p *Preparer) download(ctx context.Context, t *tracker, in metadataResult) (downloadResult, error) {
	done := t.begin(StageDownload)

	id := p.registry.NewID()
	dest := filepath.Join(p.opts.CacheDir, id.String()+audio.TrackExt)
	out := downloadResult{metadataResult: in, id: id, path: dest}

	err := p.processor.Download(ctx, in.sourceURL, dest)
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(dest); err == nil {
			out.size = info.Size()
		}
	}
	if err != nil {
		removePartial(p.opts.CacheDir, id)
		done(StageFailed, err)
		return downloadResult{}, fmt.Errorf("%w: %w", model.ErrAcquisitionFailed, err)
	}

	done(StageSucceeded, nil)
	return out, nil
}

// probe is stage 3. A failed or non-positive probe falls back to the
// nominal duration from stage 1.
func (p *Preparer) probe(ctx context.Context, t *tracker, in downloadResult) probeResult {
	done := t.begin(StageProbe)
	out := probeResult{downloadResult: in}

	duration, err := p.processor.ProbeDuration(ctx, in.path)
	if err == nil && duration > 0 {
		out.duration = duration
		done(StageSucceeded, nil)
		return out
	}

	if in.meta != nil && in.meta.Duration > 0 {
		out.duration = in.meta.Duration
	}
	if err == nil {
		err = fmt.Errorf("probed duration %v is not positive", duration)
	}
	done(StageFailed, err)
	return out
}

// decode is stage 4. Failure leaves samples nil.
func (p *Preparer) decode(ctx context.Context, t *tracker, in probeResult) decodeResult {
	done := t.begin(StageDecode)
	out := decodeResult{probeResult: in}

	samples, err := p.processor.DecodePCM(ctx, in.path, p.opts.AnalysisSeconds, p.opts.SampleRate)
	if err != nil {
		done(StageFailed, err)
		return out
	}
	out.samples = samples
	done(StageSucceeded, nil)
	return out
}

// analyzeSamples is stage 5. It is skipped without samples and recovers
// analyzer panics.
func (p *Preparer) analyzeSamples(t *tracker, in decodeResult) (out analyzeResult) {
	out = analyzeResult{probeResult: in.probeResult}
	done := t.begin(StageAnalyze)

	if len(in.samples) == 0 {
		done(StageSkipped, nil)
		metrics.KeyEstimates.WithLabelValues("none").Inc()
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.key = nil
			done(StageFailed, fmt.Errorf("analyzer panic: %v", r))
			metrics.KeyEstimates.WithLabelValues("none").Inc()
		}
	}()

	out.key = p.analyze(in.samples, p.opts.SampleRate)
	if out.key == nil {
		done(StageSkipped, nil)
		metrics.KeyEstimates.WithLabelValues("none").Inc()
		return out
	}
	done(StageSucceeded, nil)
	metrics.KeyEstimates.WithLabelValues(out.key.Confidence.String()).Inc()
	return out
}

// register is stage 6.
func (p *Preparer) register(t *tracker, in analyzeResult, current func() bool) (*Result, error) {
	done := t.begin(StageRegister)

	if current != nil && !current() {
		removePartial(p.opts.CacheDir, in.id)
		done(StageSkipped, model.ErrSuperseded)
		return nil, model.ErrSuperseded
	}

	entry := model.TrackEntry{
		ID:        in.id,
		SourceURL: in.sourceURL,
		FilePath:  in.path,
		Size:      in.size,
		Duration:  in.duration,
		Key:       in.key,
	}
	id := p.registry.Register(entry)
	entry.ID = id
	metrics.CachedTracks.Set(float64(p.registry.Len()))
	done(StageSucceeded, nil)

	if p.mirror != nil {
		go p.mirrorUpload(entry)
	}

	res := &Result{TrackID: id, Duration: in.duration, Key: in.key}
	if in.meta != nil {
		res.Title = in.meta.Title
	}
	return res, nil
}

func (p *Preparer) mirrorUpload(entry model.TrackEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.MirrorTimeout)
	defer cancel()
	if err := p.mirror.Upload(ctx, entry); err != nil {
		logger.Warn("mirror upload failed",
			logger.String("trackId", entry.ID.String()),
			logger.ErrorField(err))
	}
}

// removePartial deletes the download target and any yt-dlp leftovers such as
// "{id}.webm" or "{id}.mp3.part".
func removePartial(dir string, id model.TrackID) {
	matches, err := filepath.Glob(filepath.Join(dir, id.String()+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove partial download",
				logger.String("path", m),
				logger.ErrorField(err))
		}
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrAcquisitionFailed):
		return "acquisition_failed"
	case errors.Is(err, model.ErrSuperseded):
		return "superseded"
	default:
		return "error"
	}
}

// tracker times stages, feeds metrics and logs, and forwards events to the
// optional observer.
type tracker struct {
	observe Observer
}

func (t *tracker) begin(stage Stage) func(StageStatus, error) {
	start := time.Now()
	t.emit(Event{Stage: stage, Status: StageStarted})

	return func(status StageStatus, err error) {
		elapsed := time.Since(start)
		metrics.StageDuration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
		if status == StageFailed {
			metrics.StageFailuresTotal.WithLabelValues(stage.String()).Inc()
			logStageFailure(stage, err)
		}
		t.emit(Event{Stage: stage, Status: status, Elapsed: elapsed, Err: err})
	}
}

func (t *tracker) emit(e Event) {
	if t.observe != nil {
		t.observe(e)
	}
}

func logStageFailure(stage Stage, err error) {
	fields := []logger.Field{
		logger.String("stage", stage.String()),
		logger.Int("exitCode", audio.ExitCodeOf(err)),
		logger.ErrorField(err),
	}
	var perr *audio.ProcessError
	if errors.As(err, &perr) {
		fields = append(fields, logger.String("stderr", perr.Stderr))
	}
	if stage.Fatal() {
		logger.Error("pipeline stage failed", fields...)
		return
	}
	logger.Warn("pipeline stage failed, continuing", fields...)
}
