package model

// Push message types on /ws/jobs/:jobId
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the part every frame shares; clients send {"type":"ping"}
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobRef identifies the job a push message is about
type WSJobRef struct {
	JobID     string  `json:"jobId"`
	SessionID string  `json:"sessionId"`
	JobType   JobType `json:"jobType"`
}

// NewWSJobRef builds the reference for job
func NewWSJobRef(job *Job) WSJobRef {
	return WSJobRef{JobID: job.ID, SessionID: job.SessionID, JobType: job.Type}
}

type WSProgressMessage struct {
	Type string `json:"type"`
	WSJobRef
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
	Attempts    int       `json:"attempts"`
}

type WSCompleteMessage struct {
	Type string `json:"type"`
	WSJobRef
	Result interface{} `json:"result,omitempty"`
}

// WSErrorMessage is sent once a job failed or was cancelled
type WSErrorMessage struct {
	Type string `json:"type"`
	WSJobRef
	Status JobStatus `json:"status"`
	Error  WSError   `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
