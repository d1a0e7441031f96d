package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/loan-decision/internal/config"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	"github.com/ZanzyTHEbar/loan-decision/internal/monitoring"
)

const (
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""

	debugFlag = &urfave.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}

	transformerFlag = &urfave.StringFlag{
		Name:  "transformer",
		Usage: "Feature transformer artifact (overrides TRANSFORMER_PATH)",
	}

	modelFlag = &urfave.StringFlag{
		Name:  "model",
		Usage: "Model artifact (overrides MODEL_PATH)",
	}

	calibratorFlag = &urfave.StringFlag{
		Name:  "calibrator",
		Usage: "Calibrator artifact (overrides ISO_PATH)",
	}

	explainerFlag = &urfave.StringFlag{
		Name:  "explainer",
		Usage: "Explainer artifact (overrides SHAP_EXPLAINER_PATH)",
	}
)

type appConfig struct {
	cfg    config.Config
	format string
	logger *monitoring.Logger
}

func getConfig(c *urfave.Context) *appConfig {
	return c.App.Metadata[appConfigKey].(*appConfig)
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *urfave.App {
	return &urfave.App{
		Name:            "loanctl",
		Version:         fmt.Sprintf("%s (%s)", version, commit),
		Compiled:        time.Now(),
		HideHelpCommand: true,
		Usage:           "Operator CLI for the loan decision service",
		Writer:          stdout,
		ErrWriter:       stderr,
		Metadata:        map[string]interface{}{},
		Flags: []urfave.Flag{
			debugFlag,
			formatFlag,
			transformerFlag,
			modelFlag,
			calibratorFlag,
			explainerFlag,
		},
		Commands: []*urfave.Command{
			predictCmd,
			artifactsCmd,
			historyCmd,
			tokenCmd,
			useraddCmd,
			usersCmd,
		},
		Before: func(c *urfave.Context) error {
			level := "warn"
			if c.Bool(debugFlag.Name) {
				level = "debug"
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			overridePath(c, transformerFlag, &cfg.Artifacts.TransformerPath)
			overridePath(c, modelFlag, &cfg.Artifacts.ModelPath)
			overridePath(c, calibratorFlag, &cfg.Artifacts.CalibratorPath)
			overridePath(c, explainerFlag, &cfg.Artifacts.ExplainerPath)

			format := c.String(formatFlag.Name)
			switch format {
			case formatJSON:
			case formatYAML, "yml":
				format = formatYAML
			default:
				return fmt.Errorf("unsupported output format %q", format)
			}

			c.App.Metadata[appConfigKey] = &appConfig{
				cfg:    cfg,
				format: format,
				logger: monitoring.NewLoggerWithWriter(c.App.ErrWriter, level, monitoring.FormatConsole),
			}
			return nil
		},
	}
}

func overridePath(c *urfave.Context, flag *urfave.StringFlag, target *string) {
	if c.IsSet(flag.Name) {
		*target = c.String(flag.Name)
	}
}

func (a *appConfig) newEngine() *decision.Engine {
	store := decision.NewArtifactStore(decision.Paths{
		Transformer: a.cfg.Artifacts.TransformerPath,
		Model:       a.cfg.Artifacts.ModelPath,
		Calibrator:  a.cfg.Artifacts.CalibratorPath,
		Explainer:   a.cfg.Artifacts.ExplainerPath,
	}, a.logger.Logger)
	return decision.NewEngine(store, a.logger.Logger)
}

// encode writes v in the selected format. YAML goes through the JSON form so both
// outputs share field names.
func (a *appConfig) encode(w io.Writer, v interface{}) error {
	if a.format != formatYAML {
		e := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}

	e := yaml.NewEncoder(w)
	defer e.Close()
	e.SetIndent(2)
	return e.Encode(generic)
}
