package models

type SourceSystem string

const (
	SourceSystemA SourceSystem = "SOURCE_A" // tax-authority feed
	SourceSystemB SourceSystem = "SOURCE_B" // ERP feed
)

func (s SourceSystem) Valid() bool {
	return s == SourceSystemA || s == SourceSystemB
}

type DocumentStatus string

const (
	DocumentStatusPending                  DocumentStatus = "PENDING"
	DocumentStatusMatched                  DocumentStatus = "MATCHED"
	DocumentStatusReconciled               DocumentStatus = "RECONCILED"
	DocumentStatusReconciledWithDifference DocumentStatus = "RECONCILED_WITH_DIFFERENCE"
	DocumentStatusUnmatchedSourceAOnly     DocumentStatus = "UNMATCHED_SOURCE_A_ONLY"
	DocumentStatusUnmatchedSourceBOnly     DocumentStatus = "UNMATCHED_SOURCE_B_ONLY"
)

type Classification string

const (
	ClassificationReconciled        Classification = "RECONCILED"
	ClassificationDifferenceInValue Classification = "DIFFERENCE_IN_VALUE"
	ClassificationMissingInSourceA  Classification = "MISSING_IN_SOURCE_A"
	ClassificationMissingInSourceB  Classification = "MISSING_IN_SOURCE_B"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusProcessed RunStatus = "PROCESSED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
)

type SchedulerMode string

const (
	SchedulerModeAutomatic SchedulerMode = "AUTOMATIC"
	SchedulerModeManual    SchedulerMode = "MANUAL"
	SchedulerModePaused    SchedulerMode = "PAUSED"
)

func (m SchedulerMode) Valid() bool {
	return m == SchedulerModeAutomatic || m == SchedulerModeManual || m == SchedulerModePaused
}

type JobState string

const (
	JobStateWaiting   JobState = "WAITING"
	JobStateActive    JobState = "ACTIVE"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
)

type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) Valid() bool {
	return l == LogLevelInfo || l == LogLevelWarn || l == LogLevelError
}
