package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Circulation and dispatcher counters. Registered on the default registry so
// promhttp.Handler() picks them up without extra wiring.
var (
	BorrowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_borrows_total",
		Help: "Successful borrow operations",
	})

	ReturnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_returns_total",
		Help: "Successful return operations",
	})

	ReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_reservations_total",
		Help: "Reservations placed",
	})

	OutOfStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_out_of_stock_total",
		Help: "Borrow attempts rejected for lack of stock",
	})

	TxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_tx_retries_total",
		Help: "Engine transactions retried after a serialization conflict",
	})

	PenaltiesAssessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_penalties_assessed_total",
		Help: "Penalties created by the assessor",
	})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibliotek_notifications_sent_total",
		Help: "Notifications written by the dispatcher",
	})
)
