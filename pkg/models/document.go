package models

// Document is an uploaded document handed to a processing pipeline or the
// time estimator. Data is held in memory for the lifetime of the job; uploads
// are size-capped at the HTTP layer.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}
