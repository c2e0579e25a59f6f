// Package payload builds the outbound messages sent by simulated clients.
//
// Output is a pure function of (user, sequence, mode) apart from the
// timestamp field: every pseudo-random field is drawn from a PCG source
// seeded with the user and sequence, so a scenario can be replayed byte for
// byte.
package payload

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Mode string

const (
	ModeStructural Mode = "structural"
	ModeBulk       Mode = "bulk"
	ModeSimple     Mode = "simple"
	ModeSequence   Mode = "sequence"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStructural, ModeBulk, ModeSimple, ModeSequence:
		return m, nil
	case "":
		return ModeStructural, nil
	}
	return "", fmt.Errorf("payload: unknown mode %q", s)
}

const (
	collaborators = 5
	readers       = 3
	editors       = 2
)

// Options sizes the generated documents. Negative sizes are treated as 0.
type Options struct {
	Paragraphs          int
	ChangesPerParagraph int
	TextLength          int

	ContentSize      int
	BulkChanges      int
	ChangeTextLength int

	// Msg is the text of simple-mode requests.
	Msg string
}

func DefaultOptions() Options {
	return Options{
		Paragraphs:          5,
		ChangesPerParagraph: 3,
		TextLength:          200,
		ContentSize:         10000,
		BulkChanges:         100,
		ChangeTextLength:    100,
		Msg:                 "hello",
	}
}

// Generator is stateless apart from its options and is safe for concurrent
// use.
type Generator struct {
	Opts Options
	Now  func() time.Time
}

func New(opts Options) *Generator {
	return &Generator{Opts: opts, Now: time.Now}
}

func (g *Generator) rng(userID string, seq uint64) *rand.Rand {
	return rand.New(rand.NewPCG(xxhash.Sum64String(userID), seq))
}

func (g *Generator) timestamp() int64 {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return now().UnixMilli()
}

// Generate returns the wire payload for message seq of userID.
func (g *Generator) Generate(userID string, seq uint64, mode Mode) []byte {
	var v any
	switch mode {
	case ModeSequence:
		return []byte(strconv.FormatUint(seq, 10))
	case ModeSimple:
		return SimpleRequest(g.msg(), seq)
	case ModeBulk:
		v = g.bulk(userID, seq)
	default:
		v = g.structural(userID, seq)
	}

	// plain structs of strings and numbers always encode
	b, _ := json.Marshal(v)
	return b
}

func (g *Generator) msg() string {
	if g.Opts.Msg == "" {
		return "hello"
	}
	return g.Opts.Msg
}

func (g *Generator) structural(userID string, seq uint64) Document {
	r := g.rng(userID, seq)
	textLen := clamp(g.Opts.TextLength)

	doc := Document{
		MessageID:  seq,
		UserID:     userID,
		DocumentID: DocumentID(userID),
		Timestamp:  g.timestamp(),
		Type:       "edit",
		Content:    make([]Paragraph, clamp(g.Opts.Paragraphs)),
		Metadata: Metadata{
			Version:       seq,
			LastEditor:    userID,
			Collaborators: users(r, collaborators),
			Permissions: Permissions{
				Readers: users(r, readers),
				Editors: users(r, editors),
			},
		},
	}

	for i := range doc.Content {
		p := Paragraph{
			ID:   fmt.Sprintf("p-%d", i),
			Text: randomText(r, textLen),
			Styles: Styles{
				FontSize:  fontSizes[r.IntN(len(fontSizes))],
				Color:     colors[r.IntN(len(colors))],
				Bold:      r.IntN(2) == 1,
				Italic:    r.IntN(2) == 1,
				Underline: r.IntN(2) == 1,
			},
			Changes: make([]Change, clamp(g.Opts.ChangesPerParagraph)),
		}
		for j := range p.Changes {
			p.Changes[j] = Change{
				Position: r.IntN(textLen + 1),
				Insert:   randomText(r, 1+r.IntN(10)),
				Delete:   r.IntN(5),
				Attributes: Attributes{
					Bold:   r.IntN(2) == 1,
					Italic: r.IntN(2) == 1,
				},
			}
		}
		doc.Content[i] = p
	}
	return doc
}

func (g *Generator) bulk(userID string, seq uint64) Bulk {
	r := g.rng(userID, seq)
	size := clamp(g.Opts.ContentSize)
	text := strings.Repeat("B", clamp(g.Opts.ChangeTextLength))

	b := Bulk{
		MessageID:  seq,
		UserID:     userID,
		DocumentID: DocumentID(userID),
		Timestamp:  g.timestamp(),
		Content:    strings.Repeat("A", size),
		Changes:    make([]BulkChange, clamp(g.Opts.BulkChanges)),
	}
	for i := range b.Changes {
		pos := 0
		if size > 0 {
			pos = r.IntN(size)
		}
		b.Changes[i] = BulkChange{Position: pos, Text: text}
	}
	return b
}

// DocumentID is the document a user edits.
func DocumentID(userID string) string {
	return "doc-" + userID
}

// SimpleRequest encodes a {"msg","code"} probe.
func SimpleRequest(msg string, code uint64) []byte {
	b, _ := json.Marshal(Simple{Msg: msg, Code: code})
	return b
}

// Reply is the textual answer a sync server gives to a simple-mode request.
func Reply(msg string, code uint64) string {
	return fmt.Sprintf("%s: %d", msg, code)
}

var (
	fontSizes = []int{10, 12, 14, 16, 18, 24}
	colors    = []string{"#000000", "#333333", "#1f6feb", "#d73a49", "#28a745", "#6f42c1"}
)

const letters = "abcdefghijklmnopqrstuvwxyz      "

func randomText(r *rand.Rand, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(letters[r.IntN(len(letters))])
	}
	return sb.String()
}

func users(r *rand.Rand, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "user-" + strconv.Itoa(1+r.IntN(10000))
	}
	return out
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
