// Package transcript reconciles the raw interim/final segment stream into a
// UI-stable ordered log: per speaker, at most one live interim entry at the
// tail, with finalized lines kept forever.
package transcript

import "emergency-call-console/internal/protocol"

// Log is the reconciled transcript. The zero value is an empty log. Apply
// returns a new Log; an existing value is never mutated, so the log stays
// rebuildable from the raw segment stream.
type Log struct {
	segments []protocol.TranscriptSegment
}

// Apply merges one incoming segment. The speaker's existing non-final entry
// (if any) is removed first: a newer interim supersedes it, a final settles
// it. Finals already in the log are never touched.
func (l Log) Apply(seg protocol.TranscriptSegment) Log {
	out := make([]protocol.TranscriptSegment, 0, len(l.segments)+1)
	for _, s := range l.segments {
		if s.Speaker == seg.Speaker && !s.IsFinal {
			continue
		}
		out = append(out, s)
	}
	return Log{segments: append(out, seg)}
}

// Segments returns the ordered reconciled log.
func (l Log) Segments() []protocol.TranscriptSegment {
	out := make([]protocol.TranscriptSegment, len(l.segments))
	copy(out, l.segments)
	return out
}

// Len returns the number of entries in the log.
func (l Log) Len() int {
	return len(l.segments)
}

// LiveInterim returns the speaker's current non-final entry, if one exists.
func (l Log) LiveInterim(speaker protocol.Speaker) (protocol.TranscriptSegment, bool) {
	for _, s := range l.segments {
		if s.Speaker == speaker && !s.IsFinal {
			return s, true
		}
	}
	return protocol.TranscriptSegment{}, false
}
