package model

// Chunk is one retrievable span of a source document. Its position in a
// session index is the only link to its vector.
type Chunk struct {
	Source    string `json:"source"`
	Page      int    `json:"page"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	// Tokens is a cached estimate; 0 means not computed.
	Tokens int `json:"tokens"`
}
