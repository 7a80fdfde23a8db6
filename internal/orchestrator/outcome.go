package orchestrator

// Outcome is the terminal state of one orchestration. It is one of
// Succeeded, Failed or TimedOut; callers switch on the concrete type.
type Outcome interface {
	// Err converts the outcome into the error form used by Await.
	Err() error
	JobID() string
	isOutcome()
}

// Succeeded carries the final status payload of a successful job.
type Succeeded struct {
	ID     string
	Status *StatusResponse
}

// Failed carries the message of a job the remote system marked as failed.
type Failed struct {
	ID      string
	Message string
}

// TimedOut means the attempt ceiling was reached while the job was still
// pending. The registry record is left pending.
type TimedOut struct {
	ID       string
	Attempts int
}

func (o Succeeded) Err() error    { return nil }
func (o Succeeded) JobID() string { return o.ID }
func (Succeeded) isOutcome()      {}

func (o Failed) Err() error    { return &FailureError{JobID: o.ID, Message: o.Message} }
func (o Failed) JobID() string { return o.ID }
func (Failed) isOutcome()      {}

func (o TimedOut) Err() error    { return &TimeoutError{JobID: o.ID, Attempts: o.Attempts} }
func (o TimedOut) JobID() string { return o.ID }
func (TimedOut) isOutcome()      {}
