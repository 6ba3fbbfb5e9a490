package playback

// EstimateProgress returns the elapsed percentage of the current track. It is
// only defined while playing; callers should not publish values >= 100.
func EstimateProgress(state TrackState, nowMS int64) (float64, bool) {
	if state.State != StatePlaying || state.DurationMS <= 0 {
		return 0, false
	}
	return float64(nowMS-state.SongStartMS) / float64(state.DurationMS) * 100, true
}

// DisplayProgress is the percentage shown for state: the live estimate while
// playing, clamped to [0, 100], and the frozen value while paused.
func DisplayProgress(state TrackState, nowMS int64) (float64, bool) {
	switch state.State {
	case StatePlaying:
		percent, ok := EstimateProgress(state, nowMS)
		if !ok {
			return 0, false
		}
		return clampPercent(percent), true
	case StatePaused:
		return state.PausedProgress, state.CurrentTrackID != ""
	default:
		return 0, false
	}
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
