package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cognicore/openbr/pkg/br"
	"github.com/cognicore/openbr/pkg/br/config"
	"github.com/cognicore/openbr/pkg/br/logger"
)

const (
	configFlag        = "config"
	sdkPathFlag       = "sdk-path"
	abbreviationsFlag = "abbreviations"
	multiProcessFlag  = "multi-process"
	parallelismFlag   = "parallelism"
	workersFlag       = "workers"
	blockSizeFlag     = "block-size"
	progressFlag      = "progress"
	logFormatFlag     = "log-format"
	logLevelFlag      = "log-level"
)

// newRootCommand reads settings from CLI flags, environment variables
// prefixed with BR, or the --config file (in that order).
func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "br",
		Short: "Train, enroll and compare biometric templates",
		Long: `br assembles an algorithm from its descriptor (STAGE, STAGE:DISTANCE or
STAGE!COMPARE) and drives it over galleries of records.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configure(v)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return br.Shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.String(configFlag, "", "YAML configuration file")
	flags.String(sdkPathFlag, "", "root under which share/br/models/algorithms holds pre-trained models")
	flags.String(abbreviationsFlag, "", "YAML file of algorithm abbreviations")
	flags.Bool(multiProcessFlag, false, "run enrollment and comparison in worker processes")
	flags.Int(parallelismFlag, 0, "goroutines per enrollment or comparison (default: number of CPUs)")
	flags.Int(workersFlag, 0, "worker processes with --multi-process (default: number of CPUs)")
	flags.Int(blockSizeFlag, 0, "templates per gallery block (default 1000)")
	flags.Bool(progressFlag, false, "show a progress bar on stderr")
	flags.String(logFormatFlag, "", "log format: text or json")
	flags.String(logLevelFlag, "", "log level: debug, info, warn, error or none")
	if err := v.BindPFlags(flags); err != nil {
		panic("failed to bind pflags: " + err.Error())
	}

	root.AddCommand(
		newTrainCommand(),
		newEnrollCommand(),
		newProjectCommand(),
		newCompareCommand(),
		newPairwiseCommand(),
		newDedupCommand(),
		newConvertCommand(),
		newCatCommand(),
		newClassifierCommand(),
		newWorkerCommand(),
	)
	return root
}

// configure layers flags and environment over the config file and installs
// the result as the process-wide manager.
func configure(v *viper.Viper) error {
	cfg := config.Default()
	if path := v.GetString(configFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if v.IsSet(sdkPathFlag) {
		cfg.SDKPath = v.GetString(sdkPathFlag)
	}
	if v.IsSet(multiProcessFlag) {
		cfg.MultiProcess = v.GetBool(multiProcessFlag)
	}
	if n := v.GetInt(parallelismFlag); n > 0 {
		cfg.Parallelism = n
	}
	if n := v.GetInt(workersFlag); n > 0 {
		cfg.Workers = n
	}
	if n := v.GetInt(blockSizeFlag); n > 0 {
		cfg.BlockSize = n
	}
	if v.IsSet(progressFlag) {
		cfg.ShowProgress = v.GetBool(progressFlag)
	}
	if f := v.GetString(logFormatFlag); f != "" {
		cfg.Log.Format = f
	}
	if l := v.GetString(logLevelFlag); l != "" {
		cfg.Log.Level = l
	}
	if file := v.GetString(abbreviationsFlag); file != "" {
		abbrevs, err := config.LoadAbbreviations(file)
		if err != nil {
			return fmt.Errorf("load abbreviations: %w", err)
		}
		for name, expansion := range abbrevs {
			cfg.Abbreviations[name] = expansion
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	return br.Configure(cfg, log)
}
