package cmd

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urbansense/sview-trainer/dataset"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a trained model on the test partition",
	Long:  `Load a model checkpoint, replay the persisted partitions and score the test partition, exporting per-sample predictions`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "evaluate"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		cfg.resolveSeed()
		cfg.parseLabels()

		if err := runEvaluation(&cfg); err != nil {
			fatal(err)
		}
	},
}

func initEvaluate() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.TableFile,
		"table", "t", "", "Path to the label table (.csv)")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.FeaturesFile,
		"features", "i", "", "Path to the hdf5 file containing the view embeddings")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.FeaturesName,
		"featuresName", "features", "Name of the hdf5 dataset holding the embeddings")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.LabelName,
		"labelName", "n", "imd", "Name of the ordinal label column")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.ConstraintName,
		"constraint", "c", "", "Name of the constraint group column, empty disables group cohesion")
	evaluateCmd.PersistentFlags().IntVar(&globalConfig.LabelOffset,
		"labelOffset", -1, "Offset added to raw label values, -1 maps deciles 1..10 to 0..9")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.SplitKind,
		"split", "s", "train-val-test", "Split kind, one of [train-test, train-val-test, kfold, held-out-class]")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.PartitionFile,
		"partitions", "p", "", "Path to the persisted partition set")
	evaluateCmd.PersistentFlags().IntVar(&globalConfig.Folds,
		"folds", 5, "Number of folds for kfold splits")
	evaluateCmd.PersistentFlags().IntVar(&globalConfig.FoldIndex,
		"foldIndex", 0, "Fold used as the test partition in kfold splits")
	evaluateCmd.PersistentFlags().Float64Var(&globalConfig.TrainFraction,
		"trainFraction", 0.6, "Fraction of every class assigned to the training partition")
	evaluateCmd.PersistentFlags().Float64Var(&globalConfig.ValidationFraction,
		"validationFraction", 0.1, "Fraction of every class assigned to the validation partition")
	evaluateCmd.PersistentFlags().Float64Var(&globalConfig.TrainKeep,
		"trainKeep", 1.0, "Fraction of the training partition kept at assembly, 1 keeps everything")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.HeldOutClasses,
		"heldOut", "", "Comma separated class values reserved for testing in held-out-class splits")
	evaluateCmd.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", 42, "Seed used when the partition set was generated")
	evaluateCmd.PersistentFlags().IntVarP(&globalConfig.BatchSize,
		"batchSize", "b", 10, "Batch size for the evaluation pass")
	evaluateCmd.PersistentFlags().Float64Var(&globalConfig.NormalizeMean,
		"normalizeMean", -5.24, "Mean subtracted from every embedding component")
	evaluateCmd.PersistentFlags().Float64Var(&globalConfig.NormalizeStd,
		"normalizeStd", 8.17, "Standard deviation dividing every embedding component, 0 disables normalization")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.ModelFile,
		"model", "m", "", "Path to the model checkpoint")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.PredictionsFile,
		"predictions", "o", "", "Filename the per-sample prediction CSV is written to")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.OutputFile,
		"output", "", "Filename for an output file. If none provided, output to stdout only")
	evaluateCmd.PersistentFlags().StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.PushURL,
		"prometheusPushURL", "", "Prometheus pushgateway URL for run metrics")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.JobName,
		"prometheusJob", "sview-trainer", "Prometheus pushgateway job name")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.URL,
		"influxURL", "", "InfluxDB URL for run metrics")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Token,
		"influxToken", "", "InfluxDB API token, can also be set via INFLUXDB_TOKEN")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Org,
		"influxOrg", "", "InfluxDB organization")
	evaluateCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Bucket,
		"influxBucket", "", "InfluxDB bucket")
}

func runEvaluation(cfg *Config) error {
	runID := uuid.New().String()

	model, err := LoadCentroidModel(cfg.ModelFile)
	if err != nil {
		return err
	}

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
	})
	if err != nil {
		src.Close()
		return err
	}
	defer ds.Close()

	if err := ds.Assign(cfg.plan(), false, cfg.PartitionFile); err != nil {
		return err
	}

	if model.Dim != ds.Dim() {
		return errors.Errorf("model width %d does not match feature store width %d", model.Dim, ds.Dim())
	}
	if !equalClasses(model.Classes, ds.Classes()) {
		log.WithFields(log.Fields{"model": model.Classes,
			"dataset": ds.Classes()}).Warn("Model and dataset disagree on the class set")
	}

	log.WithFields(log.Fields{"run_id": runID, "model": cfg.ModelFile,
		"split": cfg.SplitKind, "test": ds.NumTest()}).Info("Beginning evaluation")

	it, err := ds.TestIterator(cfg.BatchSize)
	if err != nil {
		return err
	}

	result, err := evaluatePass(model, it, ds.Classes())
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"mae": result.MAE, "accuracy": result.Accuracy,
		"samples": result.Samples}).Info("Evaluation result")

	if err := ds.WriteTestPredictions(result.Predictions, cfg.PredictionsFile); err != nil {
		return err
	}
	infof("Test predictions written to %s", cfg.PredictionsFile)

	if err := writeResults(cfg, result); err != nil {
		return err
	}

	sum := &RunSummary{
		RunID:             runID,
		Command:           "evaluate",
		Dataset:           filepath.Base(cfg.FeaturesFile),
		SplitKind:         cfg.SplitKind,
		Timestamp:         time.Now().Format(time.RFC3339),
		MAE:               result.MAE,
		Accuracy:          result.Accuracy,
		TrainSamples:      ds.NumTrain(),
		ValidationSamples: ds.NumValidation(),
		TestSamples:       ds.NumTest(),
		BatchSize:         cfg.BatchSize,
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

	return nil
}
