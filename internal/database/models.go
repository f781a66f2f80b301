package database

import "time"

type Room struct {
	Id           string
	CreatedBy    string
	CreatedAt    time.Time
	Participants []Participant
}

type Participant struct {
	RoomId    string
	Pubkey    string
	IsAdmin   bool
	IsSpeaker bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateRoomParams struct {
	Id        string
	CreatedBy string
}
