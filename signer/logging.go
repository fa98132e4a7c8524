/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging wires the standard logger to a rotating file, grounded on
// tdns/logging.go's SetupLogging. An empty logfile keeps the default
// stderr output instead of the teacher's log.Fatalf on empty path --
// zonesignerd must still run for one-shot CLI invocations with no log
// file configured.
func SetupLogging(logfile string) {
	log.SetFlags(log.Lshortfile | log.Ltime)
	if logfile == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
}
