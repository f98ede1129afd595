package models

import "fmt"

// Phrase is one timed speech segment returned by a transcriber.
type Phrase struct {
	Text       string `json:"text"`
	OffsetMs   int64  `json:"offsetMilliseconds"`
	DurationMs int64  `json:"durationMilliseconds"`
}

// EndMs returns the offset at which the phrase stops.
func (p Phrase) EndMs() int64 { return p.OffsetMs + p.DurationMs }

// Chunk is the unit that gets embedded and indexed.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	SequenceID int       `json:"sequence_id,string"`
	MediaName  string    `json:"video_name"`
	Text       string    `json:"text"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Vector     []float32 `json:"vector,omitempty"`
}

// SearchHit is a chunk as reported back by the index. SequenceID is kept in
// the index's textual form.
type SearchHit struct {
	ChunkID    string  `json:"chunk_id"`
	SequenceID string  `json:"id"`
	MediaName  string  `json:"video_name"`
	Text       string  `json:"text"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Score      float64 `json:"score"`
}

// FormatTimestamp renders milliseconds as zero-padded HH:MM:SS. Fractions of
// a second are truncated; hours grow past two digits when needed.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1_000
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
