package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAllow           = "allow"
	outcomeUnauthenticated = "unauthenticated"
	outcomeForbidden       = "forbidden"
	outcomeUnavailable     = "unavailable"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "access_authz_decisions_total",
	Help: "Authorization decisions by outcome.",
}, []string{"outcome"})
