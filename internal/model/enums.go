package model

// Session status
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionUploaded  SessionStatus = "uploaded"
	SessionSyncing   SessionStatus = "syncing"
	SessionSynced    SessionStatus = "synced"
	SessionEditing   SessionStatus = "editing"
	SessionRendering SessionStatus = "rendering"
	SessionPublished SessionStatus = "published"
	SessionFailed    SessionStatus = "failed"
)

var ValidSessionStatuses = []SessionStatus{
	SessionRecording, SessionUploaded, SessionSyncing, SessionSynced,
	SessionEditing, SessionRendering, SessionPublished, SessionFailed,
}

// Stage is the position of a status along the pipeline. failed has no stage.
func (s SessionStatus) Stage() int {
	for i, status := range ValidSessionStatuses[:7] {
		if status == s {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is at or past other along the pipeline
func (s SessionStatus) AtLeast(other SessionStatus) bool {
	return s.Stage() >= 0 && s.Stage() >= other.Stage()
}

// Operator workflow tags written by the pipeline
const (
	OperatorNeedsReview    = "needs_review"
	OperatorNeedsAttention = "needs_attention"
	OperatorRenderFailed   = "render_failed"
)

// Sync methods
type SyncMethod string

const (
	SyncMethodAudio    SyncMethod = "audio"
	SyncMethodTimecode SyncMethod = "timecode"
	SyncMethodManual   SyncMethod = "manual"
)

var ValidSyncMethods = []SyncMethod{SyncMethodAudio, SyncMethodTimecode, SyncMethodManual}

// Job types
type JobType string

const (
	JobTypeSync       JobType = "sync"
	JobTypeEDL        JobType = "edl"
	JobTypeTranscript JobType = "transcript"
	JobTypeRender     JobType = "render"
)

var ValidJobTypes = []JobType{JobTypeSync, JobTypeEDL, JobTypeTranscript, JobTypeRender}

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition can happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// EDL export formats
type EDLFormat string

const (
	EDLFormatJSON     EDLFormat = "json"
	EDLFormatCMX3600  EDLFormat = "cmx3600"
	EDLFormatChapters EDLFormat = "chapters"
)

// Render output formats
type RenderFormat string

const (
	RenderMP4_720p  RenderFormat = "mp4_720p"
	RenderMP4_1080p RenderFormat = "mp4_1080p"
	RenderMP4_2160p RenderFormat = "mp4_2160p"
)

var ValidRenderFormats = []RenderFormat{RenderMP4_720p, RenderMP4_1080p, RenderMP4_2160p}
