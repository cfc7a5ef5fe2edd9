package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phi4_generation_tokens_total",
		Help: "The total number of tokens committed by the generation loop",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "phi4_generation_duration_seconds",
		Help: "Duration of complete generate calls",
	})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phi4_generation_failures_total",
		Help: "Generate calls aborted by an executor, tokenizer or tensor build error",
	}, []string{"kind"})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_step_duration_seconds",
		Help:    "Histogram of model executor step latency",
		Buckets: prometheus.DefBuckets,
	})

	StopReasons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phi4_stop_reasons_total",
		Help: "Why generation loops terminated",
	}, []string{"reason"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_context_length_tokens",
		Help:    "Distribution of prompt lengths entering the generation loop",
		Buckets: []float64{16, 64, 128, 256, 512, 1024, 1548, 2048},
	})

	PromptTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phi4_prompt_truncations_total",
		Help: "Prompts truncated to leave room for generation",
	})

	KVCachePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "phi4_kv_cache_positions",
		Help: "Sequence positions held by the most recent step's cache",
	})

	ExecutorWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_executor_wait_seconds",
		Help:    "Time spent waiting for exclusive access to the model executor",
		Buckets: prometheus.DefBuckets,
	})

	// Sampling parameters in use
	SamplingTemperature = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_sampling_temperature",
		Help:    "Temperature values used in sampling",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 1.0, 1.5, 2.0},
	})

	SamplingTopK = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_sampling_top_k",
		Help:    "Top-K values used in sampling",
		Buckets: []float64{0, 1, 5, 10, 20, 40, 50, 100},
	})

	SamplingTopP = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_sampling_top_p",
		Help:    "Top-P values used in sampling",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 0.95, 1.0},
	})

	SamplingRepetitionPenalty = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_sampling_repetition_penalty",
		Help:    "Repetition penalty values used",
		Buckets: []float64{1.0, 1.1, 1.2, 1.5, 2.0},
	})

	// Tokenizer
	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_tokenizer_encode_length",
		Help:    "Length of encoded token sequences",
		Buckets: []float64{1, 16, 64, 256, 512, 1024, 2048, 4096},
	})

	TokenizerEncodeTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_tokenizer_encode_time_seconds",
		Help:    "Time to encode text",
		Buckets: prometheus.DefBuckets,
	})

	TokenizerDecodeTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_tokenizer_decode_time_seconds",
		Help:    "Time to decode token IDs",
		Buckets: prometheus.DefBuckets,
	})

	// Analysis
	AnalysisParses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phi4_analysis_parse_total",
		Help: "Analysis parser outcomes by path (structured or fallback)",
	}, []string{"path"})

	AnalysisConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi4_analysis_confidence",
		Help:    "Confidence reported by produced analyses",
		Buckets: []float64{0, 0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0},
	})

	AnalysisDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "phi4_analysis_duration_seconds",
		Help: "End-to-end cognitive analysis latency",
	})

	SinkPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phi4_sink_publish_total",
		Help: "Pattern analytics publishes by outcome",
	}, []string{"outcome"})
)

// RecordGeneration records one finished generate call.
func RecordGeneration(tokens int, duration time.Duration, stopReason string) {
	GenerationTokensTotal.Add(float64(tokens))
	GenerationDuration.Observe(duration.Seconds())
	StopReasons.WithLabelValues(stopReason).Inc()
}

func RecordGenerationFailure(kind string) {
	GenerationFailures.WithLabelValues(kind).Inc()
}

func RecordStep(duration time.Duration, cachePositions int) {
	StepDuration.Observe(duration.Seconds())
	KVCachePositions.Set(float64(cachePositions))
}

func RecordExecutorWait(duration time.Duration) {
	ExecutorWaitDuration.Observe(duration.Seconds())
}

func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

func RecordTruncation() {
	PromptTruncations.Inc()
}

// RecordSamplingConfig records the sampling parameters of one generate call.
func RecordSamplingConfig(temperature float64, topK int, topP, repPenalty float64) {
	SamplingTemperature.Observe(temperature)
	SamplingTopK.Observe(float64(topK))
	SamplingTopP.Observe(topP)
	SamplingRepetitionPenalty.Observe(repPenalty)
}

// RecordTokenizerEncode records tokenizer encoding metrics
func RecordTokenizerEncode(length int, encodeTime time.Duration) {
	TokenizerEncodeLength.Observe(float64(length))
	TokenizerEncodeTime.Observe(encodeTime.Seconds())
}

// RecordTokenizerDecode records tokenizer decoding metrics
func RecordTokenizerDecode(decodeTime time.Duration) {
	TokenizerDecodeTime.Observe(decodeTime.Seconds())
}

// RecordAnalysisParse records which parser path produced an analysis.
func RecordAnalysisParse(path string, confidence float32) {
	AnalysisParses.WithLabelValues(path).Inc()
	AnalysisConfidence.Observe(float64(confidence))
}

func RecordAnalysis(duration time.Duration) {
	AnalysisDuration.Observe(duration.Seconds())
}

func RecordSinkPublish(err error) {
	if err != nil {
		SinkPublishes.WithLabelValues("error").Inc()
		return
	}
	SinkPublishes.WithLabelValues("ok").Inc()
}
