// Package logging provides structured logging configuration for gqlws.
//
// This package wraps log/slog so every component logs the same way. Loggers
// write text or JSON to a writer and can additionally tee JSON records into a
// size-rotated file.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	    File:   &logging.FileConfig{Path: "/var/log/gqlws/server.log", MaxSizeMB: 100},
//	})
//
//	logger.Info("server started", "addr", ":4000")
//
// # Integration
//
// Components accept a *slog.Logger in their options. If no logger is provided,
// they use logging.Nop().
package logging
