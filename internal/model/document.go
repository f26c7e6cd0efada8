package model

import "time"

// DocumentMeta is the sidecar record stored next to every ingested upload.
type DocumentMeta struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name,omitempty"`
	SessionID    string    `json:"session_id"`
	Tokens       int       `json:"tokens"`
	Pages        int       `json:"pages"`
	Chunks       int       `json:"chunks"`
	Characters   int       `json:"characters"`
	Words        int       `json:"words"`
	Bytes        int64     `json:"bytes"`
	Checksum     string    `json:"checksum"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
