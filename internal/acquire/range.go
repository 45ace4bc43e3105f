package acquire

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Start is the outcome of start resolution.
type Start struct {
	// Cursor is the last processed block once initialization is done.
	Cursor uint64
	// ProcessFirst reports whether Cursor itself still has to be processed.
	ProcessFirst bool
	// Resumed reports whether Cursor came from persisted state.
	Resumed bool
	// Clamped reports whether the lookback window moved the start forward.
	Clamped bool
	// Gap holds requested blocks dropped by clamping, if any.
	Gap *BlockRange
}

// ResolveStart decides where acquisition begins. A persisted cursor at or
// past the requested block wins; otherwise the requested block is processed
// first. Either way a start further than lookback behind latest is clamped to
// latest-lookback.
func ResolveStart(requested, cursor uint64, hasCursor bool, latest, lookback uint64) Start {
	if hasCursor && cursor >= requested {
		if latest <= cursor || latest-cursor <= lookback {
			return Start{Cursor: cursor, Resumed: true}
		}
		clamped := latest - lookback
		start := Start{Cursor: clamped, ProcessFirst: true, Resumed: true, Clamped: true}
		if clamped > cursor+1 {
			start.Gap = &BlockRange{From: cursor + 1, To: clamped - 1}
		}
		return start
	}

	if requested > latest {
		// Not mined yet; the first tick that sees it processes it.
		return Start{Cursor: requested - 1}
	}
	if latest-requested <= lookback {
		return Start{Cursor: requested, ProcessFirst: true}
	}
	clamped := latest - lookback
	return Start{
		Cursor:       clamped,
		ProcessFirst: true,
		Clamped:      true,
		Gap:          &BlockRange{From: requested, To: clamped - 1},
	}
}

// outsideLookback reports whether block is too far behind latest to process.
func outsideLookback(block, latest, lookback uint64) bool {
	return latest > block && latest-block > lookback
}
