package domain

import (
	"fmt"
	"io"
	"time"
)

type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r *PageRange) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Contains reports whether 1-based page p is inside the range. A nil range
// covers every page.
func (r *PageRange) Contains(p int) bool {
	if r == nil {
		return true
	}
	return p >= r.Start && p <= r.End
}

// ConversionOptions carries backend-specific knobs. Zero values mean
// "backend default".
type ConversionOptions struct {
	Quality   int        `json:"quality,omitempty"`
	DPI       int        `json:"dpi,omitempty"`
	PageRange *PageRange `json:"page_range,omitempty"`
	Sheet     string     `json:"sheet,omitempty"`
	Delimiter string     `json:"delimiter,omitempty"`
}

func (o ConversionOptions) IsZero() bool {
	return o.Quality == 0 && o.DPI == 0 && o.PageRange == nil && o.Sheet == "" && o.Delimiter == ""
}

// OptionSpec describes one option accepted for a conversion pair.
type OptionSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Min         int    `json:"min,omitempty"`
	Max         int    `json:"max,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

// ConversionInput is what a backend receives for one call.
type ConversionInput struct {
	Data    []byte
	From    Format
	To      Format
	Options ConversionOptions
	// WorkDir is a private temporary directory removed after the call.
	WorkDir string
}

type UploadRequest struct {
	Caller   Caller
	Filename string
	Body     io.Reader
}

type ConvertRequest struct {
	Caller       Caller
	ArtifactID   string
	OutputFormat string
	Options      ConversionOptions
}

type ConversionResult struct {
	Artifact *Artifact     `json:"artifact"`
	Backend  BackendID     `json:"backend"`
	Duration time.Duration `json:"-"`
}

type ConversionState string

const (
	StateReceived   ConversionState = "received"
	StateValidated  ConversionState = "validated"
	StateDispatched ConversionState = "dispatched"
	StateSucceeded  ConversionState = "succeeded"
	StateFailed     ConversionState = "failed"
)

const (
	DefaultJPEGQuality = 85
	DefaultRasterDPI   = 200
	DefaultPageDPI     = 300
	MinDPI             = 72
	MaxDPI             = 600
)
