package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// SubmissionCounter outcome: accepted / already_completed / not_available / invalid / failed
	SubmissionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Quiz submissions by outcome and trigger",
		},
		[]string{"outcome", "trigger"},
	)

	ManualGradeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_manual_grades_total",
			Help: "Manual grade awards applied by instructors",
		},
		[]string{"completed"},
	)

	ResultReadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_result_reads_total",
			Help: "Result reads split by results gate state",
		},
		[]string{"gate"},
	)

	SweptSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_expired_sessions_submitted_total",
			Help: "Expired sessions submitted by the server-side sweeper",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(SubmissionCounter)
	prometheus.MustRegister(ManualGradeCounter)
	prometheus.MustRegister(ResultReadCounter)
	prometheus.MustRegister(SweptSessions)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
