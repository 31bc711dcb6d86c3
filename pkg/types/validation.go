package types

import (
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var roomCodeRegex = regexp.MustCompile(`^[0-9]{5}$`)

// TranscriptLimit is the number of entries a room keeps for replay.
const TranscriptLimit = 50

// IsValidRoomCode reports whether code is exactly five ASCII digits.
func IsValidRoomCode(code string) bool {
	return roomCodeRegex.MatchString(code)
}

// ParseRole maps the isHost query flag onto a role. Anything other than the
// literal "true" is a student.
func ParseRole(isHost string) Role {
	if isHost == "true" {
		return RoleHost
	}
	return RoleStudent
}

// ParseTargetLanguages splits a comma-separated list, trimming blanks and
// dropping empties. An empty result falls back to def.
func ParseTargetLanguages(raw string, def string) []string {
	var langs []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		lang := strings.TrimSpace(part)
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	if len(langs) == 0 {
		return []string{def}
	}
	return langs
}

// AppendTranscript appends entry and keeps only the newest limit entries,
// oldest evicted first. The returned slice never aliases the input's
// dropped prefix.
func AppendTranscript(buf []TranscriptEntry, entry TranscriptEntry, limit int) []TranscriptEntry {
	buf = append(buf, entry)
	if limit > 0 && len(buf) > limit {
		trimmed := make([]TranscriptEntry, limit)
		copy(trimmed, buf[len(buf)-limit:])
		return trimmed
	}
	return buf
}

// Validate checks a record before it is written to a store.
func (r *RoomRecord) Validate() error {
	if !IsValidRoomCode(r.RoomCode) {
		return ErrInvalidRoomCode
	}
	if len(r.Transcript) > TranscriptLimit {
		return ErrTranscriptTooLong
	}
	if r.StudentCount < 0 {
		return ErrInvalidStudentCount
	}
	return nil
}
