package antifraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "growth_antifraud_rejections_total",
	Help: "Events rejected by antifraud, by reason.",
}, []string{"reason"})
