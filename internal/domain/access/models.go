package access

import (
	"time"
)

type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseCapturingPlate       Phase = "capturing_plate"
	PhaseVehicleRegistered    Phase = "vehicle_registered"
	PhaseVehicleNotRegistered Phase = "vehicle_not_registered"
	PhaseNoPlateDetected      Phase = "no_plate_detected"
	PhaseCapturingDriver      Phase = "capturing_driver"
	PhaseNoFaceDetected       Phase = "no_face_detected"
	PhaseProcessing           Phase = "processing"
	PhaseEnrolled             Phase = "enrolled"
	PhaseApproved             Phase = "approved"
	PhaseDenied               Phase = "denied"
	PhaseError                Phase = "error"
)

type Flow string

const (
	// FlowVehicle reads the plate first, then matches the driver with a single threshold.
	FlowVehicle Flow = "vehicle"
	// FlowAnonymous matches a face against the captured corpus with the three-way policy.
	FlowAnonymous Flow = "anonymous"
)

type Corpus string

const (
	CorpusRegistered   Corpus = "registered"
	CorpusCaptured     Corpus = "captured"
	CorpusUnrecognized Corpus = "unrecognized"
	CorpusTemp         Corpus = "temp"
)

// Command is a token sent to the gate microcontroller.
type Command string

const (
	CommandProcessing    Command = "PROCESSANDO"
	CommandGrant         Command = "LIBERAR"
	CommandDeny          Command = "RECUSAR"
	CommandNotRegistered Command = "VEICULO_NAO_REGISTRADO"
)

// Snapshot is the externally visible projection of the current session.
// Values are immutable once published.
type Snapshot struct {
	Status        Phase     `json:"status"`
	Message       string    `json:"message"`
	ImageURL      string    `json:"image_url"`
	PlateImageURL string    `json:"plate_image_url,omitempty"`
	Plate         string    `json:"plate,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Decision string

const (
	DecisionAccept    Decision = "accept"
	DecisionUncertain Decision = "uncertain"
	DecisionReject    Decision = "reject"
	DecisionEnroll    Decision = "enroll"
)

type MatchResult struct {
	Matched    bool    `json:"matched"`
	BestKey    string  `json:"best_key,omitempty"`
	BestScore  float64 `json:"best_score"`
	Corpus     Corpus  `json:"corpus,omitempty"`
	Candidates int     `json:"candidates"`
}

// Outcome describes how a session ended. It feeds the access log and event publishers.
type Outcome struct {
	SessionID  string       `json:"session_id"`
	Flow       Flow         `json:"flow"`
	Phase      Phase        `json:"phase"`
	Plate      string       `json:"plate,omitempty"`
	Decision   Decision     `json:"decision,omitempty"`
	Match      *MatchResult `json:"match,omitempty"`
	Message    string       `json:"message"`
	ImageKey   string       `json:"image_key,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Granted reports whether the gate was opened for this outcome.
func (o Outcome) Granted() bool {
	return o.Phase == PhaseApproved
}

type Vehicle struct {
	ID        int64     `json:"id"`
	Plate     string    `json:"plate"`
	OwnerName string    `json:"owner_name"`
	ImageKey  string    `json:"image_key"`
	CreatedAt time.Time `json:"created_at"`
}
