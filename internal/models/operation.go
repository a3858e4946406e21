package models

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/desertthunder/rbxbridge/internal/shared"
)

// Status is the lifecycle position of an [ImportOperation].
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusUploading
	StatusProcessing
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusUploading:
		return "uploading"
	case StatusProcessing:
		return "processing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of [Status.String].
func ParseStatus(s string) (Status, error) {
	for st := StatusPending; st <= StatusFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return StatusPending, fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
//
// Transitions move strictly forward; any non-terminal status may fail.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next > s
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ErrorKind classifies a failed import for the caller.
type ErrorKind string

const (
	ErrorKindNone            ErrorKind = ""
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindDownload        ErrorKind = "download"
	ErrorKindUpload          ErrorKind = "upload"
	ErrorKindPlatformTimeout ErrorKind = "platform_timeout"
	ErrorKindPlatformFailure ErrorKind = "platform_failure"
)

// Format is a 3D model file format accepted by the platform.
type Format string

const (
	FormatFBX  Format = "fbx"
	FormatGLB  Format = "glb"
	FormatGLTF Format = "gltf"
	FormatOBJ  Format = "obj"
)

// DefaultFormat is used when an import request names none.
const DefaultFormat = FormatGLB

// ParseFormat normalizes s, returning an error for unsupported formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	switch f {
	case FormatFBX, FormatGLB, FormatGLTF, FormatOBJ:
		return f, nil
	case "":
		return DefaultFormat, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", shared.ErrValidation, s)
	}
}

// FormatFromFilename maps a file extension to a Format.
func FormatFromFilename(name string) (Format, bool) {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".fbx":
		return FormatFBX, true
	case ".glb":
		return FormatGLB, true
	case ".gltf":
		return FormatGLTF, true
	case ".obj":
		return FormatOBJ, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type the platform expects for uploads of f.
func (f Format) ContentType() string {
	switch f {
	case FormatFBX:
		return "model/fbx"
	case FormatGLTF:
		return "model/gltf+json"
	case FormatOBJ:
		return "model/obj"
	default:
		return "model/gltf-binary"
	}
}

// ArchiveExtensions lists the file extensions that satisfy f when extracting from an archive, in preference order.
func (f Format) ArchiveExtensions() []string {
	switch f {
	case FormatFBX:
		return []string{".fbx"}
	case FormatGLB:
		return []string{".glb"}
	case FormatGLTF:
		return []string{".gltf", ".glb"}
	case FormatOBJ:
		return []string{".obj"}
	default:
		return []string{".glb", ".fbx"}
	}
}

// Default metadata applied to imports that omit it.
const (
	DefaultDisplayName = "Meshy Model"
	DefaultDescription = "Created with Meshy AI"
)

// ImportRequest is a caller's request to move one asset onto the platform.
type ImportRequest struct {
	SourceURL   string `json:"source_url"`
	Format      Format `json:"format,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Normalize trims input and applies defaults.
func (r ImportRequest) Normalize() ImportRequest {
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DisplayName == "" {
		r.DisplayName = DefaultDisplayName
	}
	if strings.TrimSpace(r.Description) == "" {
		r.Description = DefaultDescription
	}
	if f, err := ParseFormat(string(r.Format)); err == nil {
		r.Format = f
	}
	return r
}

// Validate checks the request after [ImportRequest.Normalize].
func (r ImportRequest) Validate() error {
	if r.SourceURL == "" {
		return fmt.Errorf("%w: source_url is required", shared.ErrValidation)
	}

	u, err := url.Parse(r.SourceURL)
	if err != nil {
		return fmt.Errorf("%w: source_url is not a URL: %v", shared.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: source_url must be http or https", shared.ErrValidation)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: source_url has no host", shared.ErrValidation)
	}

	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	return nil
}

// ImportOperation tracks one import from submission to a terminal status.
type ImportOperation struct {
	ID                  string     `json:"operation_id"`
	Status              Status     `json:"status"`
	SourceURL           string     `json:"source_url"`
	Format              Format     `json:"format"`
	DisplayName         string     `json:"display_name"`
	Description         string     `json:"description"`
	PlatformOperationID string     `json:"platform_operation_id,omitempty"`
	ResultAssetID       string     `json:"asset_id,omitempty"`
	AssetURL            string     `json:"asset_url,omitempty"`
	ErrorKind           ErrorKind  `json:"error_kind,omitempty"`
	ErrorDetail         string     `json:"error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

// NewImportOperation creates a pending operation for req.
func NewImportOperation(id string, req ImportRequest, now time.Time) ImportOperation {
	return ImportOperation{
		ID:          id,
		Status:      StatusPending,
		SourceURL:   req.SourceURL,
		Format:      req.Format,
		DisplayName: req.DisplayName,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetFailure records why the operation failed. Status is left to the registry.
func (o *ImportOperation) SetFailure(kind ErrorKind, detail string) {
	o.ErrorKind = kind
	o.ErrorDetail = detail
}

// Duration is the elapsed time until finish, or until now for active operations.
func (o ImportOperation) Duration(now time.Time) time.Duration {
	if o.FinishedAt != nil {
		return o.FinishedAt.Sub(o.CreatedAt)
	}
	return now.Sub(o.CreatedAt)
}
