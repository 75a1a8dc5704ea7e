package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/cohort-program-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the promotion/voting/review engines.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	promotions        *prometheus.CounterVec
	bonusAwards       *prometheus.CounterVec
	votesCast         prometheus.Counter
	reviewsDelivered  prometheus.Counter
	waitingListAdds   *prometheus.CounterVec
	notifyFailures    prometheus.Counter
	periodsClosed     prometheus.Counter
	capacityConflicts prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	promotions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promotions_total",
		Help: "Student promotions by reason",
	}, []string{"reason"})

	bonusAwards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bonus_awards_total",
		Help: "Peer-vote bonuses granted by tier",
	}, []string{"tier"})

	votesCast := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "votes_cast_total",
		Help: "Accepted vote acts",
	})

	reviewsDelivered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_questions_delivered_total",
		Help: "Review questions handed to the adapter for delivery",
	})

	waitingListAdds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waiting_list_entries_total",
		Help: "Waiting-list enqueues by kind",
	}, []string{"kind"})

	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Events that could not be delivered to the adapter",
	})

	periodsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_periods_closed_total",
		Help: "Exam periods whose bonuses were applied",
	})

	capacityConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "group_capacity_conflicts_total",
		Help: "Assignments retried after a capacity re-check failed",
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		promotions, bonusAwards, votesCast, reviewsDelivered,
		waitingListAdds, notifyFailures, periodsClosed, capacityConflicts,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		promotions:        promotions,
		bonusAwards:       bonusAwards,
		votesCast:         votesCast,
		reviewsDelivered:  reviewsDelivered,
		waitingListAdds:   waitingListAdds,
		notifyFailures:    notifyFailures,
		periodsClosed:     periodsClosed,
		capacityConflicts: capacityConflicts,
	}
}

// Handler returns the Prometheus scrape handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObservePromotion counts a promotion by its trigger.
func (s *MetricsService) ObservePromotion(reason string) {
	s.promotions.WithLabelValues(reason).Inc()
}

// ObserveBonusAward counts a granted bonus tier.
func (s *MetricsService) ObserveBonusAward(tier models.BonusTier) {
	s.bonusAwards.WithLabelValues(string(tier)).Inc()
}

// ObserveVoteCast counts an accepted vote act.
func (s *MetricsService) ObserveVoteCast() {
	s.votesCast.Inc()
}

// ObserveReviewDelivered counts a review question handed off for delivery.
func (s *MetricsService) ObserveReviewDelivered() {
	s.reviewsDelivered.Inc()
}

// ObserveWaitingListAdd counts a waiting-list enqueue.
func (s *MetricsService) ObserveWaitingListAdd(kind models.WaitingKind) {
	s.waitingListAdds.WithLabelValues(string(kind)).Inc()
}

// ObserveNotificationFailure counts a dropped or failed event delivery.
func (s *MetricsService) ObserveNotificationFailure() {
	s.notifyFailures.Inc()
}

// ObservePeriodClosed counts a completed period close.
func (s *MetricsService) ObservePeriodClosed() {
	s.periodsClosed.Inc()
}

// ObserveCapacityConflict counts a capacity re-check failure.
func (s *MetricsService) ObserveCapacityConflict() {
	s.capacityConflicts.Inc()
}
