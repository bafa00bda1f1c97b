package viewer

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/displayagent/internal/raster"
)

// Diagnostic is the panel shown instead of blank content when a slot has
// nothing to display.
type Diagnostic struct {
	Error           string    `json:"error"`
	Suggestion      string    `json:"suggestion"`
	Details         string    `json:"details,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Troubleshooting []string  `json:"troubleshooting"`
}

func noDocumentDiagnostic(slot string, now time.Time) *Diagnostic {
	return &Diagnostic{
		Error:      "No active document for " + slot,
		Suggestion: "Upload a document in the admin panel and mark it active.",
		Timestamp:  now,
		Troubleshooting: []string{
			"Check that the document type matches this slot.",
			"Check that the document is marked active.",
		},
	}
}

// diagnose classifies a load failure.
func diagnose(err error, now time.Time) *Diagnostic {
	d := &Diagnostic{Details: err.Error(), Timestamp: now}
	switch {
	case errors.Is(err, raster.ErrInvalidPDF):
		d.Error = "The document is not a valid PDF"
		d.Suggestion = "Re-export the file as PDF and upload it again."
		d.Troubleshooting = []string{
			"Open the file on a computer to confirm it is not corrupted.",
			"Avoid password-protected PDFs.",
		}
	case errors.Is(err, raster.ErrRenderTimeout), errors.Is(err, context.DeadlineExceeded):
		d.Error = "The document took too long to load"
		d.Suggestion = "Reduce the file size or the number of pages and try again."
		d.Troubleshooting = []string{
			"Scanned documents at very high resolution render slowly.",
			"Check the load on the display computer.",
		}
	case errors.Is(err, raster.ErrFetch):
		d.Error = "Could not download the document"
		d.Suggestion = "Check the network connection to the backend."
		d.Troubleshooting = []string{
			"Confirm the backend server is running.",
			"Confirm the document URL is reachable from the display.",
			"The display retries automatically when the document changes.",
		}
	case errors.Is(err, raster.ErrRender), errors.Is(err, raster.ErrNoPages):
		d.Error = "Could not read the document"
		d.Suggestion = "Upload the document again."
		d.Troubleshooting = []string{
			"Confirm the PDF has at least one page.",
			"Try printing the document to a new PDF before uploading.",
		}
	default:
		d.Error = "Failed to load the document"
		d.Suggestion = "Use retry, or check the agent logs."
		d.Troubleshooting = []string{"Check the agent logs for details."}
	}
	return d
}
