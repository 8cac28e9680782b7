package cmd

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urbansense/sview-trainer/dataset"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a decile classifier on partitioned embeddings",
	Long:  `Train a nearest-centroid ordinal classifier on the training partition, checkpointing whenever the validation error improves`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "train"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		cfg.resolveSeed()
		cfg.parseLabels()

		if err := runTraining(&cfg); err != nil {
			fatal(err)
		}
	},
}

func initTrain() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.PersistentFlags().StringVarP(&globalConfig.TableFile,
		"table", "t", "", "Path to the label table (.csv)")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.FeaturesFile,
		"features", "i", "", "Path to the hdf5 file containing the view embeddings")
	trainCmd.PersistentFlags().StringVar(&globalConfig.FeaturesName,
		"featuresName", "features", "Name of the hdf5 dataset holding the embeddings")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.LabelName,
		"labelName", "n", "imd", "Name of the ordinal label column")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.ConstraintName,
		"constraint", "c", "", "Name of the constraint group column, empty disables group cohesion")
	trainCmd.PersistentFlags().IntVar(&globalConfig.LabelOffset,
		"labelOffset", -1, "Offset added to raw label values, -1 maps deciles 1..10 to 0..9")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.SplitKind,
		"split", "s", "train-val-test", "Split kind, one of [train-test, train-val-test, kfold, held-out-class]")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.PartitionFile,
		"partitions", "p", "", "Path to the persisted partition set")
	trainCmd.PersistentFlags().BoolVarP(&globalConfig.GeneratePartitions,
		"generate", "g", false, "Generate and persist the partition set instead of loading an existing one")
	trainCmd.PersistentFlags().IntVar(&globalConfig.Folds,
		"folds", 5, "Number of folds for kfold splits")
	trainCmd.PersistentFlags().IntVar(&globalConfig.FoldIndex,
		"foldIndex", 0, "Fold used as the test partition in kfold splits")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.TrainFraction,
		"trainFraction", 0.6, "Fraction of every class assigned to the training partition")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.ValidationFraction,
		"validationFraction", 0.1, "Fraction of every class assigned to the validation partition")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.TrainKeep,
		"trainKeep", 1.0, "Fraction of the training partition kept at assembly, 1 keeps everything")
	trainCmd.PersistentFlags().StringVar(&globalConfig.HeldOutClasses,
		"heldOut", "", "Comma separated class values reserved for testing in held-out-class splits")
	trainCmd.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", 42, "Seed driving partition assembly and batch sampling")
	trainCmd.PersistentFlags().IntVarP(&globalConfig.BatchSize,
		"batchSize", "b", 10, "Batch size for training and validation passes")
	trainCmd.PersistentFlags().IntVarP(&globalConfig.Epochs,
		"epochs", "e", 10, "Number of training epochs")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.Soften,
		"soften", 0, "Probability mass moved from the true class onto its ordinal neighbors")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.NormalizeMean,
		"normalizeMean", -5.24, "Mean subtracted from every embedding component")
	trainCmd.PersistentFlags().Float64Var(&globalConfig.NormalizeStd,
		"normalizeStd", 8.17, "Standard deviation dividing every embedding component, 0 disables normalization")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.ModelFile,
		"model", "m", "", "Path the model checkpoint is written to")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.PredictionsFile,
		"predictions", "o", "", "Filename for a validation prediction export. If none provided, no export is written")
	trainCmd.PersistentFlags().StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	trainCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.PushURL,
		"prometheusPushURL", "", "Prometheus pushgateway URL for run metrics")
	trainCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.JobName,
		"prometheusJob", "sview-trainer", "Prometheus pushgateway job name")
	trainCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.URL,
		"influxURL", "", "InfluxDB URL for run metrics")
	trainCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Token,
		"influxToken", "", "InfluxDB API token, can also be set via INFLUXDB_TOKEN")
	trainCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Org,
		"influxOrg", "", "InfluxDB organization")
	trainCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Bucket,
		"influxBucket", "", "InfluxDB bucket")
	trainCmd.PersistentFlags().BoolVar(&globalConfig.MemoryMonitoringEnabled,
		"monitorMemory", false, "Sample process heap usage for the duration of the run")
	trainCmd.PersistentFlags().IntVar(&globalConfig.MemoryMonitoringInterval,
		"monitorMemoryInterval", 5, "Seconds between heap samples")
	trainCmd.PersistentFlags().StringVar(&globalConfig.MemoryMonitoringFile,
		"monitorMemoryFile", "", "Filename for the heap samples under ./results, empty picks a timestamped name")
}

func runTraining(cfg *Config) error {
	runID := uuid.New().String()

	table, err := dataset.LoadTable(cfg.TableFile, cfg.LabelName, cfg.ConstraintName, cfg.LabelOffset)
	if err != nil {
		return err
	}

	src, err := dataset.OpenHdf5Source(cfg.FeaturesFile, cfg.FeaturesName)
	if err != nil {
		return err
	}

	ds, err := dataset.New(src, table, dataset.Options{
		Seed:      cfg.Seed,
		Normalize: cfg.normalization(),
		Soften:    cfg.Soften,
	})
	if err != nil {
		src.Close()
		return err
	}
	defer ds.Close()

	if err := ds.Assign(cfg.plan(), cfg.GeneratePartitions, cfg.PartitionFile); err != nil {
		return err
	}

	if !ds.HasValidation() {
		warnf("no validation partition for %s splits, validation metrics use training data", cfg.SplitKind)
	}

	monitor := NewMemoryMonitor(cfg)
	monitor.Start()
	defer monitor.Stop()

	log.WithFields(log.Fields{"run_id": runID, "epochs": cfg.Epochs,
		"batch_size": cfg.BatchSize, "soften": cfg.Soften, "seed": cfg.Seed,
		"train_classes": ds.TrainLabelCounts()}).Info("Beginning training")

	model := NewCentroidModel(ds.Classes(), ds.Dim())

	validate := func() (Results, error) {
		it, err := ds.ValidationIterator(cfg.BatchSize)
		if err != nil {
			return Results{}, err
		}
		return evaluatePass(model, it, model.Classes)
	}

	result, err := validate()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"mae": result.MAE, "accuracy": result.Accuracy,
		"samples": result.Samples}).Info("Validation before training")

	if dir := filepath.Dir(cfg.ModelFile); dir != "." {
		os.MkdirAll(dir, 0755)
	}

	iterations := ds.NumTrain() / cfg.BatchSize
	if iterations < 1 {
		iterations = 1
	}

	bestMAE := math.Inf(1)
	history := make([]float64, 0, cfg.Epochs)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		for i := 0; i < iterations; i++ {
			batch, err := ds.BalancedTrainBatch(cfg.BatchSize)
			if err != nil {
				return err
			}
			if err := model.Update(batch); err != nil {
				return err
			}
		}

		result, err = validate()
		if err != nil {
			return err
		}
		history = append(history, result.MAE)

		fields := log.Fields{"epoch": epoch, "mae": result.MAE, "accuracy": result.Accuracy}
		if result.MAE < bestMAE {
			bestMAE = result.MAE
			if err := model.Save(cfg.ModelFile); err != nil {
				return err
			}
			fields["checkpoint"] = cfg.ModelFile
		}
		log.WithFields(fields).Info("Epoch complete")
	}

	if cfg.PredictionsFile != "" {
		if err := ds.WriteValidationPredictions(result.Predictions, cfg.PredictionsFile); err != nil {
			return err
		}
		infof("Validation predictions written to %s", cfg.PredictionsFile)
	}

	sum := &RunSummary{
		RunID:             runID,
		Command:           "train",
		Dataset:           filepath.Base(cfg.FeaturesFile),
		SplitKind:         cfg.SplitKind,
		Timestamp:         time.Now().Format(time.RFC3339),
		MAE:               result.MAE,
		Accuracy:          result.Accuracy,
		TrainSamples:      ds.NumTrain(),
		ValidationSamples: ds.NumValidation(),
		TestSamples:       ds.NumTest(),
		Epochs:            cfg.Epochs,
		BatchSize:         cfg.BatchSize,
		MAEHistory:        history,
	}
	if err := writeRunSummary(cfg, sum); err != nil {
		return err
	}
	if err := PushMetricsToPrometheus(cfg, sum); err != nil {
		return err
	}
	if err := PushMetricsToInfluxDB(cfg, sum); err != nil {
		return err
	}

	log.WithFields(log.Fields{"run_id": runID, "best_mae": bestMAE,
		"model": cfg.ModelFile}).Info("Training complete")
	return nil
}
