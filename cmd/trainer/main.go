package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"propcast/internal/cfg"
	"propcast/internal/dataset"
	"propcast/internal/ml"
	"propcast/internal/storage"
)

func main() {
	var (
		csvPath   = flag.String("csv", "", "Labelled CSV file (default: labelled samples from the data store)")
		label     = flag.String("label", "label", "Label column in the CSV")
		subject   = flag.String("subject", "", "Subject column in the CSV")
		features  = flag.String("features", "", "Comma-separated feature order (default: every other column)")
		activate  = flag.Bool("activate", false, "Activate the new artifact after storing it")
		rollback  = flag.Bool("rollback", false, "Activate the previous artifact and exit")
		list      = flag.Bool("list", false, "List stored artifact versions and exit")
		export    = flag.String("export", "", "Also write the artifact JSON to this file")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		reference = flag.String("reference", "", "Reference model for explanations (overrides config)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *reference != "" {
		config.Training.ReferenceModel = *reference
	}

	switch {
	case *list:
		err = withManager(config.DataPath, func(_ *storage.Store, manager *ml.ModelManager) error {
			printVersions(manager)
			return nil
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list versions")
		}
		return
	case *rollback:
		var version string
		err = withManager(config.DataPath, func(_ *storage.Store, manager *ml.ModelManager) error {
			version, err = manager.Rollback()
			return err
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		fmt.Printf("Active version is now %s (send SIGHUP to the server to reload)\n", version)
		return
	}

	featureOrder := splitList(*features)
	var ds ml.Dataset
	if *csvPath != "" {
		ds, err = dataset.LoadCSV(*csvPath, dataset.CSVOptions{
			LabelColumn:   *label,
			SubjectColumn: *subject,
			Features:      featureOrder,
			Policy:        config.Policy,
		})
	} else {
		err = withManager(config.DataPath, func(store *storage.Store, _ *ml.ModelManager) error {
			ds, err = dataset.LoadFromStore(store, featureOrder, config.Policy)
			return err
		})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trainer, err := ml.NewTrainer(config.Training, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid training config")
	}
	artifact, err := trainer.Train(ctx, ds)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	err = withManager(config.DataPath, func(_ *storage.Store, manager *ml.ModelManager) error {
		if _, err := manager.AddVersion(artifact); err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
		if *activate {
			if err := manager.ActivateVersion(artifact.Version()); err != nil {
				return fmt.Errorf("activate artifact: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to record artifact")
	}
	if *export != "" {
		data, err := ml.MarshalArtifact(artifact)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode artifact")
		}
		if err := os.WriteFile(*export, data, 0o600); err != nil {
			log.Fatal().Err(err).Msg("Failed to export artifact")
		}
	}

	printSummary(artifact, *activate)
}

// withManager opens the store for the duration of fn only, so a serving
// process can reload between trainer steps.
func withManager(dataPath string, fn func(*storage.Store, *ml.ModelManager) error) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}
	defer store.Close()

	manager, err := ml.NewModelManager(store)
	if err != nil {
		return err
	}
	return fn(store, manager)
}

func printSummary(a *ml.Artifact, active bool) {
	s := a.Summary()
	fmt.Println("=== Training Summary ===")
	fmt.Printf("Version:        %s (active: %t)\n", a.Version(), active)
	fmt.Printf("Features:       %s\n", strings.Join(a.FeatureOrder(), ", "))
	fmt.Printf("Samples:        %d train / %d holdout, %d folds\n", s.TrainSamples, s.HoldoutSamples, s.Folds)
	fmt.Printf("Models:         %s\n", strings.Join(a.ModelIdentities(), ", "))
	fmt.Printf("Reference:      %s (best holdout AUC: %s)\n", a.ReferenceModel(), s.BestModel)
	for _, u := range s.Unavailable {
		fmt.Printf("Excluded:       %s (%s): %s\n", u.ID, u.Kind, u.Reason)
	}

	ids := make([]string, 0, len(s.BaseModels))
	for id := range s.BaseModels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println("------------------------")
	fmt.Printf("%-12s %8s %8s %8s\n", "model", "acc", "f1", "auc")
	for _, id := range ids {
		m := s.BaseModels[id]
		fmt.Printf("%-12s %8.4f %8.4f %8.4f\n", id, m.Accuracy, m.F1Score, m.AUCScore)
	}
	fmt.Printf("%-12s %8.4f %8.4f %8.4f\n", "blended", s.Blended.Accuracy, s.Blended.F1Score, s.Blended.AUCScore)

	if len(s.FeatureImportance) > 0 {
		fmt.Println("------------------------")
		fmt.Printf("Top features:   %s\n", strings.Join(ml.TopFeatures(s.FeatureImportance, 5), ", "))
	}
	fmt.Println("========================")
}

func printVersions(manager *ml.ModelManager) {
	for _, v := range manager.ListVersions() {
		marker := " "
		if v.IsActive {
			marker = "*"
		}
		fmt.Printf("%s %s  models=%s  auc=%.4f\n", marker, v.Version, strings.Join(v.Models, ","), v.Metrics.AUCScore)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
