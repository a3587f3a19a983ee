// Package logging provides structured logging for browserfleet.
//
// This package wraps Go's log/slog to write JSON lines with persistent
// context attributes, so the entries for one browser instance can be
// filtered out of a long-running manager's log after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's handler and writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("instance started", "pid", 4242)
//
// # Context Propagation
//
//	lc := logger.WithComponent("lifecycle").WithInstance("3")
//	lc.Warn("graceful close timed out", "grace", "1s")
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"graceful close timed out","component":"lifecycle","instance_id":"3","grace":"1s"}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named browserfleet.log.1, browserfleet.log.2, etc., where
// .1 is the most recent backup. With compression they become .1.gz and so on.
// [RotatingWriter] works on any afero.Fs, which keeps its tests in memory.
//
// # Nil Loggers
//
// Logging methods on a nil *Logger are no-ops, and [NopLogger] returns a
// Logger that discards everything. Components therefore accept a logger
// without requiring one.
package logging
