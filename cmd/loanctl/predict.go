package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/loan-decision/internal/prediction"
	"github.com/ZanzyTHEbar/loan-decision/internal/types"
)

var (
	profileFlag = &urfave.StringFlag{
		Name:     "profile",
		Aliases:  []string{"p"},
		Usage:    "Applicant profile file (.json, .yaml or .yml), - for JSON on stdin",
		Required: true,
	}

	predictCmd = &urfave.Command{
		Name:   "predict",
		Usage:  "Scores a profile offline with the configured artifacts",
		Flags:  []urfave.Flag{profileFlag},
		Action: cmdPredict,
	}
)

func cmdPredict(c *urfave.Context) error {
	app := getConfig(c)

	payload, err := readProfile(c.String(profileFlag.Name), c.App.Reader)
	if err != nil {
		return err
	}

	result := app.newEngine().Predict(prediction.RequestProfile(payload))
	return app.encode(c.App.Writer, types.NewPredictResponse(result))
}

func readProfile(path string, stdin io.Reader) (map[string]interface{}, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	payload := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &payload)
	default:
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &payload)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return payload, nil
}
