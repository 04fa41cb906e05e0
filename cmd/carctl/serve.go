// Copyright 2025 Certen Protocol
//
// `serve` runs carctl as a long-lived co-attestation peer: it answers the
// /api/attestations/request endpoint that pkg/attestation.CollectQuorum
// broadcasts to, signing over CAR IDs it finds sealed in its local
// internal/archive.Store. Configuration here is pkg/config.ServiceConfig
// (env-var driven), not CliConfig's flag/YAML precedence layer, because a
// peer is typically started once by an init system, not invoked
// interactively per run.

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/certen/car-engine/internal/archive"
	"github.com/certen/car-engine/internal/sign"
	"github.com/certen/car-engine/pkg/attestation"
	"github.com/certen/car-engine/pkg/config"
	"github.com/certen/car-engine/pkg/logging"
	"github.com/certen/car-engine/pkg/metrics"
)

var serveFlagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run carctl as a co-attestation peer over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlagAddr, "addr", ":8090", "listen address for the attestation peer endpoint")
}

func runServe() error {
	svcCfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := svcCfg.Validate(); err != nil {
		return err
	}

	var validatorID, secretB64 string
	if svcCfg.SigningKeyPath != "" {
		pub, secret, err := sign.LoadKeypairFile(svcCfg.SigningKeyPath)
		if err != nil {
			return err
		}
		validatorID, secretB64 = pub, secret
	}

	if svcCfg.MetricsAddr != "" {
		if err := metrics.Serve(svcCfg.MetricsAddr); err != nil {
			return err
		}
	}

	store := archive.NewStore(svcCfg.DataDir)
	handler := &peerHandler{store: store, validatorID: validatorID, secretB64: secretB64}

	logging.L().Infow("attestation peer listening", "addr", serveFlagAddr, "data_dir", svcCfg.DataDir)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attestations/request", handler.handle)
	return http.ListenAndServe(serveFlagAddr, mux)
}

// peerHandler answers attestation requests for CAR IDs this peer already
// holds a sealed archive for. It never generates or verifies a CAR itself
// — attesting to an unverified CAR would be worse than not attesting at
// all, so a request for an unknown CAR ID is simply declined.
type peerHandler struct {
	store       *archive.Store
	validatorID string
	secretB64   string
}

func (h *peerHandler) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "read body: " + err.Error()})
		return
	}
	var req attestation.PeerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "parse request: " + err.Error()})
		return
	}

	if h.secretB64 == "" {
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "peer has no signing key configured"})
		return
	}
	if !h.hasCar(req.CarID) {
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "car id not held by this peer"})
		return
	}

	att, err := attestation.Sign(h.validatorID, h.secretB64, req.CarID, time.Now().UTC())
	if err != nil {
		json.NewEncoder(w).Encode(attestation.PeerResponse{Success: false, Error: "sign: " + err.Error()})
		return
	}
	json.NewEncoder(w).Encode(attestation.PeerResponse{Success: true, Attestation: att})
}

func (h *peerHandler) hasCar(carID string) bool {
	entries, err := h.store.List()
	if err != nil {
		return false
	}
	want := archive.SanitizeStem(carID)
	for _, e := range entries {
		if e.CarID == want {
			return true
		}
	}
	return false
}
