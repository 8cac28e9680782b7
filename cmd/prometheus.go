package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
)

// PrometheusConfig holds configuration for Prometheus metrics reporting
type PrometheusConfig struct {
	Enabled bool
	PushURL string
	JobName string
}

// RunMetrics holds the Prometheus metrics for one run
type RunMetrics struct {
	MAE               prometheus.Gauge
	Accuracy          prometheus.Gauge
	TrainSamples      prometheus.Gauge
	ValidationSamples prometheus.Gauge
	TestSamples       prometheus.Gauge
	Epochs            prometheus.Gauge
	BatchSize         prometheus.Gauge
}

// NewRunMetrics creates a new set of run metrics
func NewRunMetrics(registry *prometheus.Registry, labels prometheus.Labels) *RunMetrics {
	metrics := &RunMetrics{
		MAE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_mae",
			Help:        "Mean absolute error over the evaluated partition",
			ConstLabels: labels,
		}),
		Accuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_accuracy",
			Help:        "Exact class accuracy over the evaluated partition",
			ConstLabels: labels,
		}),
		TrainSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_train_samples",
			Help:        "Training partition size",
			ConstLabels: labels,
		}),
		ValidationSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_validation_samples",
			Help:        "Validation partition size",
			ConstLabels: labels,
		}),
		TestSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_test_samples",
			Help:        "Test partition size",
			ConstLabels: labels,
		}),
		Epochs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_epochs",
			Help:        "Number of training epochs",
			ConstLabels: labels,
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sview_trainer_batch_size",
			Help:        "Batch size used for training and evaluation",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		metrics.MAE,
		metrics.Accuracy,
		metrics.TrainSamples,
		metrics.ValidationSamples,
		metrics.TestSamples,
		metrics.Epochs,
		metrics.BatchSize,
	)

	return metrics
}

// PushMetricsToPrometheus pushes the run summary to a Prometheus pushgateway
func PushMetricsToPrometheus(cfg *Config, sum *RunSummary) error {
	if !cfg.PrometheusConfig.Enabled || cfg.PrometheusConfig.PushURL == "" {
		return nil
	}

	registry := prometheus.NewRegistry()

	// Create labels from the run summary
	labels := prometheus.Labels{
		"command":   sum.Command,
		"split":     sum.SplitKind,
		"dataset":   sum.Dataset,
		"run_id":    sum.RunID,
		"timestamp": sum.Timestamp,
	}

	// Add custom labels from config
	if cfg.LabelMap != nil {
		for key, value := range cfg.LabelMap {
			labels[key] = value
		}
	}

	// Create metrics
	metrics := NewRunMetrics(registry, labels)

	// Set metric values
	metrics.MAE.Set(sum.MAE)
	metrics.Accuracy.Set(sum.Accuracy)
	metrics.TrainSamples.Set(float64(sum.TrainSamples))
	metrics.ValidationSamples.Set(float64(sum.ValidationSamples))
	metrics.TestSamples.Set(float64(sum.TestSamples))
	metrics.Epochs.Set(float64(sum.Epochs))
	metrics.BatchSize.Set(float64(sum.BatchSize))

	// Create a pusher
	pusher := push.New(cfg.PrometheusConfig.PushURL, cfg.PrometheusConfig.JobName).
		Gatherer(registry)

	// Push metrics
	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return err
	}

	log.WithFields(log.Fields{
		"url":     cfg.PrometheusConfig.PushURL,
		"job":     cfg.PrometheusConfig.JobName,
		"run_id":  sum.RunID,
		"dataset": sum.Dataset,
	}).Info("Successfully pushed metrics to Prometheus")

	return nil
}
