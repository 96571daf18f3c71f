package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateNew        JobState = "NEW"
	JobStateInProgress JobState = "IN_PROGRESS"
	JobStateComplete   JobState = "COMPLETE"
	JobStateError      JobState = "ERROR"
	JobStateCanceled   JobState = "CANCELED"
)

func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateComplete, JobStateError, JobStateCanceled:
		return true
	default:
		return false
	}
}

// DataVertical names the category of data moved by a job.
type DataVertical string

const (
	VerticalPhotos     DataVertical = "PHOTOS"
	VerticalVideos     DataVertical = "VIDEOS"
	VerticalContacts   DataVertical = "CONTACTS"
	VerticalCalendar   DataVertical = "CALENDAR"
	VerticalMail       DataVertical = "MAIL"
	VerticalTasks      DataVertical = "TASKS"
	VerticalPlaylists  DataVertical = "PLAYLISTS"
	VerticalSocialPost DataVertical = "SOCIAL_POSTS"
)

func NormalizeVertical(value string) DataVertical {
	return DataVertical(strings.ToUpper(strings.TrimSpace(value)))
}

type Job struct {
	ID            uuid.UUID
	State         JobState
	ExportService string
	ImportService string
	Vertical      DataVertical
	FailureReason string
	Authorization JobAuthorization
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (j Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("core: job id is required")
	}
	if j.State.IsTerminal() {
		return j.Authorization.ValidateCleared()
	}
	return j.Authorization.Validate()
}

// ValidateTransferTargets checks the fields a job needs before its credentials can
// be handed to a worker.
func (j Job) ValidateTransferTargets() error {
	if strings.TrimSpace(string(j.Vertical)) == "" {
		return fmt.Errorf("core: job %s data vertical is required", j.ID)
	}
	if strings.TrimSpace(j.ExportService) == "" {
		return fmt.Errorf("core: job %s export service is required", j.ID)
	}
	if strings.TrimSpace(j.ImportService) == "" {
		return fmt.Errorf("core: job %s import service is required", j.ID)
	}
	return nil
}

type CreateJobInput struct {
	ExportService string
	ImportService string
	Vertical      DataVertical
	Metadata      map[string]any
}

type PaginationData struct {
	Token string `json:"token"`
}

// ContainerResource is an opaque handle to one exportable sub-resource, such as
// an album or a calendar.
type ContainerResource struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExportInformation is one unit of pending export work.
type ExportInformation struct {
	PaginationData    *PaginationData    `json:"pagination,omitempty"`
	ContainerResource *ContainerResource `json:"container,omitempty"`
}

func (i ExportInformation) String() string {
	parts := make([]string, 0, 2)
	if i.ContainerResource != nil {
		parts = append(parts, "container="+i.ContainerResource.Type+":"+i.ContainerResource.ID)
	}
	if i.PaginationData != nil {
		parts = append(parts, "page="+i.PaginationData.Token)
	}
	if len(parts) == 0 {
		return "root"
	}
	return strings.Join(parts, " ")
}

type ContinuationData struct {
	PaginationData     *PaginationData
	ContainerResources []ContainerResource
}

func (c *ContinuationData) IsEmpty() bool {
	return c == nil || (c.PaginationData == nil && len(c.ContainerResources) == 0)
}

type ResultType string

const (
	ResultTypeContinue ResultType = "CONTINUE"
	ResultTypeEnd      ResultType = "END"
	ResultTypeError    ResultType = "ERROR"
)

// DataModel is the payload handed from an exporter to an importer.
type DataModel interface {
	Vertical() DataVertical
}

type ExportResult struct {
	Type         ResultType
	Data         DataModel
	Continuation *ContinuationData
	Err          error
}

type ImportResultType string

const (
	ImportResultOK    ImportResultType = "OK"
	ImportResultError ImportResultType = "ERROR"
)

type ImportResult struct {
	Type   ImportResultType
	Counts map[string]int
	Bytes  *int64
	Err    error
}

var OKImportResult = ImportResult{Type: ImportResultOK}

// AuthData is a connector credential as produced by the OAuth dance.
type AuthData struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	TokenURL     string
	ExpiresAt    *time.Time
	Metadata     map[string]any
}

func (a AuthData) IsEmpty() bool {
	return strings.TrimSpace(a.AccessToken) == "" && strings.TrimSpace(a.RefreshToken) == ""
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func CopyMetadata(in map[string]any) map[string]any {
	return copyAnyMap(in)
}
