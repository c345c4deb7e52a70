// Package repository maintains a shallow single-branch checkout of one
// remote documentation repository and serves file reads from it.
//
// The checkout lives at <cache_root>/<owner>/<repo>/<branch> and is kept
// up to date either by a jittered periodic sync loop or by queued sync
// requests (webhook pushes). Syncs run under the write side of a
// writer-priority lock, reads under the read side, so a read never
// observes a half-written tree and a waiting sync is never starved by a
// stream of reads.
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
//	repo, err := repository.New(repoConf, nil, logger)
//	if err != nil {
//		panic(err)
//	}
package repository
