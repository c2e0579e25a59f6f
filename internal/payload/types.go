package payload

// Document is the structural edit envelope.
type Document struct {
	MessageID  uint64      `json:"messageId"`
	UserID     string      `json:"userId"`
	DocumentID string      `json:"documentId"`
	Timestamp  int64       `json:"timestamp"`
	Type       string      `json:"type"`
	Content    []Paragraph `json:"content"`
	Metadata   Metadata    `json:"metadata"`
}

type Paragraph struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Styles  Styles   `json:"styles"`
	Changes []Change `json:"changes"`
}

type Styles struct {
	FontSize  int    `json:"fontSize"`
	Color     string `json:"color"`
	Bold      bool   `json:"bold"`
	Italic    bool   `json:"italic"`
	Underline bool   `json:"underline"`
}

type Change struct {
	Position   int        `json:"position"`
	Insert     string     `json:"insert"`
	Delete     int        `json:"delete"`
	Attributes Attributes `json:"attributes"`
}

type Attributes struct {
	Bold   bool `json:"bold"`
	Italic bool `json:"italic"`
}

type Metadata struct {
	Version       uint64      `json:"version"`
	LastEditor    string      `json:"lastEditor"`
	Collaborators []string    `json:"collaborators"`
	Permissions   Permissions `json:"permissions"`
}

type Permissions struct {
	Readers []string `json:"readers"`
	Editors []string `json:"editors"`
}

// Bulk is the bandwidth-stress envelope.
type Bulk struct {
	MessageID  uint64       `json:"messageId"`
	UserID     string       `json:"userId"`
	DocumentID string       `json:"documentId"`
	Timestamp  int64        `json:"timestamp"`
	Content    string       `json:"content"`
	Changes    []BulkChange `json:"changes"`
}

type BulkChange struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// Simple is the request/response probe understood by the sync server.
type Simple struct {
	Msg  string `json:"msg"`
	Code uint64 `json:"code"`
}
