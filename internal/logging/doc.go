// Package logging provides structured JSON logging for dysche.
//
// Logs are written through log/slog to {stateDir}/dysche.log, rotated by size
// through RotatingWriter. Child loggers carry persistent attributes:
//
//	logger, err := logging.NewLogger(stateDir, logging.LevelInfo, logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithInstance("vm0").WithPhase("run")
//	log.Warn("device tree load failed, continuing", "error", err)
//
// Standard keys used across the codebase:
//   - instance: partition name
//   - identity: registry identity
//   - phase: lifecycle step (create, run, destroy, reboot, supervise)
//   - boot_id: cuid2 identifier of one boot attempt
//   - region: memory layout region name
//
// AggregateLogs and FilterLogs read the JSON log back for `dysche logs`.
package logging
