package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campusicon", Name: "checkins_total", Help: "Attendance check-ins committed",
	})
	CheckinRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusicon", Name: "checkin_rejections_total", Help: "Check-ins rejected, by reason",
	}, []string{"reason"})
	SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campusicon", Name: "sessions_opened_total", Help: "Attendance sessions opened",
	})
	SessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campusicon", Name: "sessions_ended_total", Help: "Attendance sessions ended",
	})
	AuditWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campusicon", Name: "audit_writes_total", Help: "Check-in events persisted by the worker",
	})
)

func init() {
	prometheus.MustRegister(CheckinsTotal, CheckinRejections, SessionsOpened, SessionsEnded, AuditWrites)
}

func Handler() http.Handler { return promhttp.Handler() }

// RejectedCheckin bumps the rejection counter for a reason label.
func RejectedCheckin(reason string) { CheckinRejections.WithLabelValues(reason).Inc() }
