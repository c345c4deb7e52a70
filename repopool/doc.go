// Package repopool maintains the pool of tracked documentation
// repositories and serves the authorized list and read operations over
// their locally cached checkouts.
//
// Each repository syncs on its own jittered loop, on queued webhook
// requests or on first read. The pool serializes add/update/remove
// against one another while reads and syncs of different repositories
// proceed independently.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	pool, err := repopool.New(ctx, conf, binding, logger.With("logger", "repopool"), nil)
//	if err != nil {
//		panic(err)
//	}
package repopool
