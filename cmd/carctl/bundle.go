// Copyright 2025 Certen Protocol
//
// `bundle` drives internal/bundler.Assemble from a JSON request file and
// writes the result via internal/archive (spec §4.5, §6).

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/certen/car-engine/internal/archive"
	"github.com/certen/car-engine/internal/bundler"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
	"github.com/certen/car-engine/pkg/config"
	"github.com/certen/car-engine/pkg/logging"
	"github.com/certen/car-engine/pkg/metrics"
)

var (
	bundleFlagRequest string
	bundleFlagKey     string
	bundleFlagOut     string
)

// attachmentRequest names the on-disk files a checkpoint's input/output
// blobs should be read from, relative to the request file's directory.
type attachmentRequest struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// bundleRequest is the JSON shape `carctl bundle --request` reads. It
// mirrors bundler.Input field-for-field except that checkpoint attachments
// are file paths here, resolved and read into memory before Assemble runs,
// and the signing key is not part of the request (see --key).
type bundleRequest struct {
	RunID            string                 `json:"run_id"`
	CreatedAt        time.Time              `json:"created_at"`
	Run              model.RunInfo          `json:"run"`
	PolicyRef        model.PolicyRef        `json:"policy_ref"`
	Budgets          *model.Budgets         `json:"budgets,omitempty"`
	Sgrade           *model.Sgrade          `json:"sgrade,omitempty"`
	CheckpointBodies []model.CheckpointBody `json:"checkpoint_bodies"`
	Attachments      []attachmentRequest    `json:"attachments,omitempty"`
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Assemble and sign a CAR from a bundle request",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBundle()
	},
}

func init() {
	bundleCmd.Flags().StringVar(&bundleFlagRequest, "request", "", "path to a bundle request JSON file (required)")
	bundleCmd.Flags().StringVar(&bundleFlagKey, "key", "", "path to a keypair PEM file written by `carctl keygen` (default: signing.key_path from the config; with neither set, the bundle is unsigned)")
	bundleCmd.Flags().StringVar(&bundleFlagOut, "out", "", "output path (default: <engine.archive_dir>/<car id>.car.zip or .car.json); the zip form is written when there are attachments, the JSON form otherwise")
	bundleCmd.MarkFlagRequired("request")
}

func runBundle() error {
	req, baseDir, err := loadBundleRequest(bundleFlagRequest)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	var checkpointAttachments []bundler.CheckpointAttachments
	for i, a := range req.Attachments {
		var blobs bundler.CheckpointAttachments
		if a.Input != "" {
			data, err := os.ReadFile(resolvePath(baseDir, a.Input))
			if err != nil {
				return fmt.Errorf("checkpoint %d input attachment: %w", i, err)
			}
			blobs.Input = data
			blobs.InputName = filepath.Base(a.Input)
		}
		if a.Output != "" {
			data, err := os.ReadFile(resolvePath(baseDir, a.Output))
			if err != nil {
				return fmt.Errorf("checkpoint %d output attachment: %w", i, err)
			}
			blobs.Output = data
			blobs.OutputName = filepath.Base(a.Output)
		}
		checkpointAttachments = append(checkpointAttachments, blobs)
	}

	keyPath := bundleFlagKey
	if keyPath == "" {
		keyPath = config.GetCLI().Signing.KeyPath
	}
	secretB64 := ""
	if keyPath != "" {
		_, secret, err := sign.LoadKeypairFile(keyPath)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		secretB64 = secret
	}

	b := bundler.New(
		bundler.WithMetrics(&bundler.Metrics{}),
		bundler.WithListener(metrics.BundlerListener()),
	)

	result, err := b.Assemble(bundler.Input{
		RunID:            req.RunID,
		CreatedAt:        req.CreatedAt,
		Run:              req.Run,
		PolicyRef:        req.PolicyRef,
		Budgets:          req.Budgets,
		Sgrade:           req.Sgrade,
		CheckpointBodies: req.CheckpointBodies,
		Attachments:      checkpointAttachments,
		SecretB64:        secretB64,
	})
	if err != nil {
		logging.L().Errorw("bundle assembly failed", "run_id", req.RunID, "error", err)
		return err
	}

	carJSON, err := json.Marshal(result.Car)
	if err != nil {
		return fmt.Errorf("marshal sealed car: %w", err)
	}

	out := bundleFlagOut
	if out == "" {
		out = filepath.Join(config.GetCLI().Engine.ArchiveDir, defaultArchiveName(result.Car.ID, len(result.Attachments) > 0))
	}

	if len(result.Attachments) > 0 {
		if err := archive.WriteZip(out, carJSON, result.Attachments); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	} else {
		if err := archive.WriteJSON(out, carJSON); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	}

	logging.L().Infow("sealed CAR written", "car_id", result.Car.ID, "path", out)
	fmt.Printf("%s\n%s\n", result.Car.ID, out)
	return nil
}

func defaultArchiveName(carID string, hasAttachments bool) string {
	stem := archive.SanitizeStem(carID)
	if hasAttachments {
		return stem + ".car.zip"
	}
	return stem + ".car.json"
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func loadBundleRequest(path string) (*bundleRequest, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var req bundleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return &req, filepath.Dir(path), nil
}
