package observability

import "github.com/prometheus/client_golang/prometheus"

// Ledger records supply and delivery events. A nil Ledger discards everything.
type Ledger struct {
	moves      *prometheus.CounterVec
	assembled  prometheus.Counter
	ready      prometheus.Gauge
	deliveries prometheus.Counter
	reversals  prometheus.Counter
	rejections *prometheus.CounterVec
}

// NewLedger registers the ledger collectors on registerer.
func NewLedger(registerer prometheus.Registerer) *Ledger {
	l := &Ledger{
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cesta_stock_moves_total",
			Help: "Stock moves recorded by direction.",
		}, []string{"direction"}),
		assembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cesta_baskets_assembled_total",
			Help: "Baskets assembled from raw supplies.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cesta_baskets_ready",
			Help: "Assembled baskets awaiting delivery as of the last committed change.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cesta_deliveries_total",
			Help: "Baskets delivered to families.",
		}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cesta_deliveries_reversed_total",
			Help: "Deliveries reversed back into the ready pool.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cesta_rejections_total",
			Help: "Operations refused by a business rule, by module and reason.",
		}, []string{"module", "reason"}),
	}
	registerer.MustRegister(l.moves, l.assembled, l.ready, l.deliveries, l.reversals, l.rejections)
	return l
}

// MoveRecorded counts a manual stock move.
func (l *Ledger) MoveRecorded(direction string) {
	if l == nil {
		return
	}
	l.moves.WithLabelValues(direction).Inc()
}

// BasketsAssembled counts assembled baskets.
func (l *Ledger) BasketsAssembled(count int64) {
	if l == nil || count <= 0 {
		return
	}
	l.assembled.Add(float64(count))
}

// ReadySet publishes the committed ready counter.
func (l *Ledger) ReadySet(qty int64) {
	if l == nil {
		return
	}
	l.ready.Set(float64(qty))
}

// StockRejected counts a refused stock operation.
func (l *Ledger) StockRejected(reason string) {
	l.rejected("stock", reason)
}

// Delivered counts a delivery.
func (l *Ledger) Delivered() {
	if l == nil {
		return
	}
	l.deliveries.Inc()
}

// Reversed counts a reversal.
func (l *Ledger) Reversed() {
	if l == nil {
		return
	}
	l.reversals.Inc()
}

// DeliveryRejected counts a refused delivery or reversal.
func (l *Ledger) DeliveryRejected(reason string) {
	l.rejected("distribution", reason)
}

func (l *Ledger) rejected(module, reason string) {
	if l == nil || reason == "" {
		return
	}
	l.rejections.WithLabelValues(module, reason).Inc()
}
