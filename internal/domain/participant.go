package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultName  = "New Signal"
	DefaultBio   = ""
	DefaultColor = "#3bff99"

	MaxNameLength = 40
	MaxBioLength  = 160
	MaxTextLength = 500
)

// ConnID identifies one live transport connection.
type ConnID = uuid.UUID

// Coords is a position. It is always set as a whole, never field by field.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Participant is the state of one connected signal.
type Participant struct {
	ID       string
	Name     string
	Bio      string
	Color    string
	Coords   *Coords
	LastSeen time.Time
}

// NewParticipant returns a participant with default profile fields.
func NewParticipant(id string, now time.Time) Participant {
	return Participant{
		ID:       id,
		Name:     DefaultName,
		Bio:      DefaultBio,
		Color:    DefaultColor,
		LastSeen: now,
	}
}

// NewParticipantID returns a fresh opaque participant identifier.
func NewParticipantID() string {
	return "u_" + uuid.NewString()
}

// Clone returns a copy that shares no memory with p.
func (p Participant) Clone() Participant {
	if p.Coords != nil {
		c := *p.Coords
		p.Coords = &c
	}
	return p
}

type participantJSON struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Bio      string  `json:"bio"`
	Color    string  `json:"color"`
	Coords   *Coords `json:"coords"`
	LastSeen int64   `json:"lastSeen"`
}

// MarshalJSON renders the public projection; lastSeen is epoch milliseconds
// and coords is null until the first location update.
func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(participantJSON{
		ID:       p.ID,
		Name:     p.Name,
		Bio:      p.Bio,
		Color:    p.Color,
		Coords:   p.Coords,
		LastSeen: p.LastSeen.UnixMilli(),
	})
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var w participantJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Participant{
		ID:       w.ID,
		Name:     w.Name,
		Bio:      w.Bio,
		Color:    w.Color,
		Coords:   w.Coords,
		LastSeen: time.UnixMilli(w.LastSeen),
	}
	return nil
}

// Truncate cuts s to at most n code points.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
