package usecase

import "fmt"

type ErrorCode string

const (
	ErrorSignature       ErrorCode = "SIGNATURE_ERROR"
	ErrorUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorPersistence     ErrorCode = "PERSISTENCE_ERROR"
	ErrorDispatch        ErrorCode = "DISPATCH_ERROR"
)

// Stage names the pipeline step an Error was raised in.
type Stage string

const (
	StageVerify   Stage = "verify"
	StageDedupe   Stage = "dedupe"
	StageHistory  Stage = "history"
	StageAugment  Stage = "augment"
	StageGenerate Stage = "generate"
	StagePersist  Stage = "persist"
	StageReply    Stage = "reply"
)

type Error struct {
	Code  ErrorCode
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Stage)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, stage Stage, err error) *Error {
	return &Error{Code: code, Stage: stage, Err: err}
}
