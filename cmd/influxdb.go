package cmd

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	log "github.com/sirupsen/logrus"
)

// InfluxDBConfig holds configuration for InfluxDB metrics reporting
type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// PushMetricsToInfluxDB pushes the run summary to an InfluxDB instance
func PushMetricsToInfluxDB(cfg *Config, sum *RunSummary) error {
	if !cfg.InfluxDBConfig.Enabled || cfg.InfluxDBConfig.URL == "" {
		return nil
	}

	client := influxdb2.NewClient(cfg.InfluxDBConfig.URL, cfg.InfluxDBConfig.Token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(cfg.InfluxDBConfig.Org, cfg.InfluxDBConfig.Bucket)

	// Create a point and add to batch
	p := influxdb2.NewPointWithMeasurement("sview_trainer").
		AddTag("command", sum.Command).
		AddTag("split", sum.SplitKind).
		AddTag("dataset", sum.Dataset).
		AddTag("run_id", sum.RunID).
		AddTag("timestamp", sum.Timestamp).
		AddField("mae", sum.MAE).
		AddField("accuracy", sum.Accuracy).
		AddField("train_samples", sum.TrainSamples).
		AddField("validation_samples", sum.ValidationSamples).
		AddField("test_samples", sum.TestSamples).
		AddField("epochs", sum.Epochs).
		AddField("batch_size", sum.BatchSize).
		SetTime(time.Now())

	// Write the point
	if err := writeAPI.WritePoint(context.Background(), p); err != nil {
		log.WithError(err).Error("Failed to push metrics to InfluxDB")
		return err
	}

	log.WithFields(log.Fields{
		"url":     cfg.InfluxDBConfig.URL,
		"bucket":  cfg.InfluxDBConfig.Bucket,
		"run_id":  sum.RunID,
		"dataset": sum.Dataset,
	}).Info("Successfully pushed metrics to InfluxDB")

	return nil
}
