package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// UploadRecord is a user-uploaded financial document.
type UploadRecord struct {
	ID        ID        `json:"_id"`
	UserID    string    `json:"user_id"`
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"file_path"`
	FileType  string    `json:"file_type"`
	Size      int64     `json:"size,omitempty"`
	ObjectKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// UploadResponse is returned by POST /api/v1/upload.
type UploadResponse struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
	Message  string `json:"message"`
}

// AnalyzeRequest is the body posted to every analysis endpoint.
type AnalyzeRequest struct {
	FilePath string `json:"file_path"`
	UserID   string `json:"user_id"`
	UploadID string `json:"id_userupload"`
}

// Stats summarises a user's uploads for the dashboard.
type Stats struct {
	Total    int64 `json:"total"`
	Analyzed int64 `json:"analyzed"`
	Pending  int64 `json:"pending"`
}

// IsExcel reports whether the upload is a spreadsheet.
func (u UploadRecord) IsExcel() bool {
	ext := strings.ToLower(path.Ext(u.FileName))
	return ext == ".xls" || ext == ".xlsx"
}

// Analyzable reports whether the analysis endpoints can read the upload.
// PDFs and images are sent to the model; spreadsheets are not.
func (u UploadRecord) Analyzable() bool {
	return Analyzable(u.FileType, u.FileName)
}

// CheckAnalyzable returns ErrUnsupportedFileType for uploads the analysis
// endpoints cannot read.
func (u UploadRecord) CheckAnalyzable() error {
	if !u.Analyzable() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, u.FileName)
	}
	return nil
}

// Analyzable reports whether a document with the given content type and name
// can be analyzed.
func Analyzable(contentType, fileName string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "application/pdf", strings.HasPrefix(ct, "image/"):
		return true
	case ct != "" && ct != "application/octet-stream":
		return false
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf", ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return true
	}
	return false
}

// IsImage reports whether contentType names an image.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}
