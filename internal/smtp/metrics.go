package smtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnection = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "web0_smtp_connection_total",
			Help: "Incoming SMTP connections.",
		},
	)
	metricCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web0_smtp_command_total",
			Help: "SMTP commands received, by verb.",
		},
		[]string{"cmd"},
	)
	metricData = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web0_smtp_data_total",
			Help: "Outcome of DATA transfers: accepted, rejected, toolarge, aborted.",
		},
		[]string{"result"},
	)
)

// commandLabel keeps the cmd label bounded to known verbs.
func commandLabel(cmd string) string {
	switch cmd {
	case "EHLO", "HELO", "STARTTLS", "AUTH", "MAIL", "RCPT", "DATA", "RSET", "NOOP", "QUIT":
		return cmd
	default:
		return "other"
	}
}
