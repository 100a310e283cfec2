package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网关 Prometheus 指标，nil 接收者上的记录方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive          prometheus.Gauge
	SessionsTotal           prometheus.Counter
	SessionCleanups         *prometheus.CounterVec
	RecognizerResets        *prometheus.CounterVec
	RecognizerStartFailures prometheus.Counter
	TurnsTotal              *prometheus.CounterVec
	BroadcastsTotal         prometheus.Counter
}

// NewMetrics 创建并注册指标到独立 registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "linglamp"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live device sessions",
	})
	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of device sessions opened",
	})
	sessionCleanups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_cleanups_total",
		Help:      "Total number of session cleanups by reason",
	}, []string{"reason"})
	recognizerResets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recognizer_resets_total",
		Help:      "Total number of recognizer resets by trigger",
	}, []string{"trigger"})
	recognizerStartFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recognizer_start_failures_total",
		Help:      "Total number of failed recognizer starts",
	})
	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total number of orchestration turns by kind",
	}, []string{"kind"})
	broadcastsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Total number of directive broadcasts",
	})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionCleanups,
		recognizerResets,
		recognizerStartFailures,
		turnsTotal,
		broadcastsTotal,
	)

	return &Metrics{
		registry:                registry,
		SessionsActive:          sessionsActive,
		SessionsTotal:           sessionsTotal,
		SessionCleanups:         sessionCleanups,
		RecognizerResets:        recognizerResets,
		RecognizerStartFailures: recognizerStartFailures,
		TurnsTotal:              turnsTotal,
		BroadcastsTotal:         broadcastsTotal,
	}
}

// Registry 指标 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 指标导出端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionOpened 会话建立
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionClosed 会话清理
func (m *Metrics) RecordSessionClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionCleanups.WithLabelValues(reason).Inc()
}

// RecordRecognizerReset 识别器重置
func (m *Metrics) RecordRecognizerReset(trigger string) {
	if m == nil {
		return
	}
	m.RecognizerResets.WithLabelValues(trigger).Inc()
}

// RecordRecognizerStartFailure 识别器启动失败
func (m *Metrics) RecordRecognizerStartFailure() {
	if m == nil {
		return
	}
	m.RecognizerStartFailures.Inc()
}

// RecordTurn 对话轮次
func (m *Metrics) RecordTurn(kind string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(kind).Inc()
}

// RecordBroadcast 广播指令
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}
