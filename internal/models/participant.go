package models

// Participant is the identity of an approved user as seen by the chat.
type Participant struct {
	ID          string `json:"participantId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Valid reports whether the participant carries the fields every broadcast needs.
func (p Participant) Valid() bool {
	return p.ID != "" && p.DisplayName != ""
}
