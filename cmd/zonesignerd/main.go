/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Command zonesignerd is the demo daemon shell around package signer: it
// reads a master file through a text InputAdapter, signs it according to
// a SignConf decoded from its configuration, writes the canonical
// zone text back out through a text OutputAdapter, and exposes a small
// gorilla/mux status endpoint. Grounded on tdnsd/main.go's mainloop
// (config load, signal handling, HTTP API goroutine).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/tigermoth/zonesigner/oracle"
	"github.com/tigermoth/zonesigner/signer"
)

func main() {
	conf, err := ParseConfig()
	if err != nil {
		log.Fatalf("zonesignerd: %v", err)
	}

	signer.SetupLogging(conf.LogFile)

	sc, err := BuildSignConf(conf)
	if err != nil {
		log.Fatalf("zonesignerd: %v", err)
	}

	store, err := oracle.Open(conf.Keystore)
	if err != nil {
		log.Fatalf("zonesignerd: %v", err)
	}
	defer store.Close()

	if err := resolveDnskeys(store, sc); err != nil {
		log.Fatalf("zonesignerd: %v", err)
	}

	apex := signer.NewName(conf.Zone)
	db := signer.NewNameDb(apex)
	stats := &signer.Stats{}

	outFile, err := os.Create(conf.Zonefile + ".signed")
	if err != nil {
		log.Fatalf("zonesignerd: %v", err)
	}
	defer outFile.Close()

	zr := &signer.ZoneRun{
		Db:     db,
		Oracle: store,
		Jitter: signer.DeterministicJitter{},
		Clock:  signer.SystemClock{},
		Stats:  stats,
		Input:  &TextFileInputAdapter{Path: conf.Zonefile},
		Output: NewTextWriterOutputAdapter(outFile),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveStatus(conf.ApiAddr, db, stats)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	if err := runOnce(ctx, zr, sc); err != nil {
		log.Fatalf("zonesignerd: initial signing run: %v", err)
	}
	log.Printf("zonesignerd: zone %s signed, stats=%+v", conf.Zone, stats.Snapshot())

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			log.Printf("zonesignerd: SIGHUP received, re-signing %s", conf.Zone)
			if err := runOnce(ctx, zr, sc); err != nil {
				log.Printf("zonesignerd: re-sign failed: %v", err)
				continue
			}
			log.Printf("zonesignerd: zone %s re-signed, stats=%+v", conf.Zone, stats.Snapshot())
		case syscall.SIGINT, syscall.SIGTERM:
			log.Printf("zonesignerd: shutting down")
			return
		}
	}
}

func runOnce(ctx context.Context, zr *signer.ZoneRun, sc *signer.SignConf) error {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	err := zr.Run(runCtx, sc, false)
	zr.PrevSignConf = sc
	return err
}

// resolveDnskeys fills in each configured key's DnskeyRR from the oracle,
// unless a literal ResourceRecordOverride is already set, per spec §4.D.
func resolveDnskeys(store *oracle.Store, sc *signer.SignConf) error {
	for i, k := range sc.Dnskey.Keys.Keys {
		if k.ResourceRecordOverride != "" {
			continue
		}
		dnskey, err := store.GetPublicKey(context.Background(), k.Locator)
		if err != nil {
			return fmt.Errorf("resolveDnskeys: key %s: %w", k.Locator, err)
		}
		sc.Dnskey.Keys.Keys[i].DnskeyRR = dnskey
	}
	return nil
}

// serveStatus runs the gorilla/mux status/health HTTP surface, grounded on
// tdnsd/api.go's router setup. It is read-only: no signing action is ever
// triggerable over HTTP.
func serveStatus(addr string, db *signer.NameDb, stats *signer.Stats) {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats.Snapshot())
	}).Methods(http.MethodGet)

	r.HandleFunc("/backup", func(w http.ResponseWriter, req *http.Request) {
		snap := signer.Snapshot(db)
		w.Header().Set("Content-Type", "text/plain")
		for _, line := range snap.Lines() {
			fmt.Fprintln(w, line)
		}
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r}
	log.Printf("zonesignerd: status API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("zonesignerd: status API: %v", err)
	}
}
