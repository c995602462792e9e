package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var countJobsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "count_jobs_in_queue",
	Help: "Number of jobs in queue",
})

var dispatcherSignalCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dispatcher_signal_count",
	Help: "How often the dispatcher has signaled to start worker",
})

var activeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_worker_count",
	Help: "Number of active workers",
})

type HttpStatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *HttpStatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func IncrementJobsInQueue() {
	countJobsInQueue.Inc()
}

func DecrementJobsInQueue() {
	countJobsInQueue.Dec()
}

func StartDispatcherSignalCount() {
	dispatcherSignalCount.Inc()
}

func IncrementActiveWorkerCount() {
	activeWorkerCount.Inc()
}
func DecrementActiveWorkerCount() {
	activeWorkerCount.Dec()
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "process_request_duration_seconds",
	Help:    "Total time spent in ProcessRequest.",
	Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
}, []string{"status"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

func CaptureExecutionMetrics(label string, timeElapsed time.Duration) {
	//dependencyLatency.WithLabelValues(label).Observe(time.Since(timeElapsed).Seconds())
	dependencyLatency.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

func CaptureJobMetrics(label string, timeElapsed time.Duration) {
	requestDuration.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

var ingestionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingestion_runs_total",
	Help: "Ingestion runs labelled by outcome (indexed, failed, integrity)",
}, []string{"outcome"})

var embeddingRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "embedding_retries_total",
	Help: "Embedding calls retried after a transient failure",
})

var dependencyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dependency_retries_total",
	Help: "Calls to the vector index or document storage retried after a transient failure",
}, []string{"dependency"})

var chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_requests_total",
	Help: "Chat requests labelled by result code, ok on success",
}, []string{"code"})

var llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llm_tokens_total",
	Help: "Tokens sent to and received from the llm",
}, []string{"direction"})

var llmCost = promauto.NewCounter(prometheus.CounterOpts{
	Name: "llm_cost_total",
	Help: "Accumulated llm cost in the configured currency",
})

var activeIngestions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_ingestion_runs",
	Help: "Ingestion runs currently executing",
})

func CaptureIngestionRun(outcome string) {
	ingestionRuns.WithLabelValues(outcome).Inc()
}

func IncrementEmbeddingRetries() {
	embeddingRetries.Inc()
}

func IncrementDependencyRetries(dependency string) {
	dependencyRetries.WithLabelValues(dependency).Inc()
}

func CaptureChatRequest(code string) {
	chatRequests.WithLabelValues(code).Inc()
}

func CaptureLLMUsage(tokensIn, tokensOut int, cost float64) {
	llmTokens.WithLabelValues("in").Add(float64(tokensIn))
	llmTokens.WithLabelValues("out").Add(float64(tokensOut))
	if cost > 0 {
		llmCost.Add(cost)
	}
}

func IncrementActiveIngestions() {
	activeIngestions.Inc()
}

func DecrementActiveIngestions() {
	activeIngestions.Dec()
}
