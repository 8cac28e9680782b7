package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urbansense/sview-trainer/dataset"
	"github.com/urbansense/sview-trainer/partition"
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Generate and persist a partition set",
	Long:  `Split the sample population with the configured strategy and persist the partition files for later training and evaluation runs`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "partition"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		cfg.resolveSeed()

		table, err := dataset.LoadTable(cfg.TableFile, cfg.LabelName, cfg.ConstraintName, cfg.LabelOffset)
		if err != nil {
			fatal(err)
		}

		log.WithFields(log.Fields{"table": cfg.TableFile, "samples": table.Len(),
			"split": cfg.SplitKind, "seed": cfg.Seed}).Info("Generating partitions")

		set, err := partition.Generate(cfg.plan(), table.Labels(), table.Groups())
		if err != nil {
			fatal(err)
		}

		if err := set.Save(cfg.PartitionFile); err != nil {
			fatal(err)
		}

		labels := table.Labels()
		if set.Kind == partition.KFold {
			for i, fold := range set.Folds {
				log.WithFields(log.Fields{"fold": i, "samples": len(fold),
					"classes": classCounts(fold, labels)}).Info("Fold written")
			}
		} else {
			parts := []struct {
				name string
				rows []int
			}{
				{"train", set.Split.Train},
				{"validation", set.Split.Validation},
				{"test", set.Split.Test},
			}
			for _, p := range parts {
				if len(p.rows) == 0 {
					continue
				}
				log.WithFields(log.Fields{"partition": p.name, "samples": len(p.rows),
					"classes": classCounts(p.rows, labels)}).Info("Partition written")
			}
		}

		infof("Partition set for %d samples written to %s", table.Len(), cfg.PartitionFile)
	},
}

func initPartition() {
	rootCmd.AddCommand(partitionCmd)
	partitionCmd.PersistentFlags().StringVarP(&globalConfig.TableFile,
		"table", "t", "", "Path to the label table (.csv)")
	partitionCmd.PersistentFlags().StringVarP(&globalConfig.LabelName,
		"labelName", "n", "imd", "Name of the ordinal label column")
	partitionCmd.PersistentFlags().StringVarP(&globalConfig.ConstraintName,
		"constraint", "c", "", "Name of the constraint group column, empty disables group cohesion")
	partitionCmd.PersistentFlags().IntVar(&globalConfig.LabelOffset,
		"labelOffset", -1, "Offset added to raw label values, -1 maps deciles 1..10 to 0..9")
	partitionCmd.PersistentFlags().StringVarP(&globalConfig.SplitKind,
		"split", "s", "train-val-test", "Split kind, one of [train-test, train-val-test, kfold, held-out-class]")
	partitionCmd.PersistentFlags().StringVarP(&globalConfig.PartitionFile,
		"partitions", "p", "", "Path the partition set is written to")
	partitionCmd.PersistentFlags().IntVar(&globalConfig.Folds,
		"folds", 5, "Number of folds for kfold splits")
	partitionCmd.PersistentFlags().IntVar(&globalConfig.FoldIndex,
		"foldIndex", 0, "Fold used as the test partition in kfold splits")
	partitionCmd.PersistentFlags().Float64Var(&globalConfig.TrainFraction,
		"trainFraction", 0.6, "Fraction of every class assigned to the training partition")
	partitionCmd.PersistentFlags().Float64Var(&globalConfig.ValidationFraction,
		"validationFraction", 0.1, "Fraction of every class assigned to the validation partition")
	partitionCmd.PersistentFlags().Float64Var(&globalConfig.TrainKeep,
		"trainKeep", 1.0, "Fraction of the training partition kept at assembly, 1 keeps everything")
	partitionCmd.PersistentFlags().StringVar(&globalConfig.HeldOutClasses,
		"heldOut", "", "Comma separated class values reserved for testing in held-out-class splits")
	partitionCmd.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", 42, "Seed driving all partition randomness")
}

func classCounts(indices []int, labels []int) map[int]int {
	counts := make(map[int]int)
	for _, i := range indices {
		counts[labels[i]]++
	}
	return counts
}
