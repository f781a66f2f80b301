package types

type CreateRoomResponse struct {
	RoomId    string   `json:"roomId"`
	Endpoints []string `json:"endpoints"`
	Token     string   `json:"token"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ChangePermissionsRequest struct {
	Participant string `json:"participant"`
	CanPublish  *bool  `json:"canPublish"`
}

type RoomInfo struct {
	Host     string   `json:"host"`
	Speakers []string `json:"speakers"`
	Admins   []string `json:"admins"`
	Link     string   `json:"link"`
}

type LobbyRoom struct {
	Id           string   `json:"id"`
	Link         string   `json:"link,omitempty"`
	Host         string   `json:"host"`
	Title        string   `json:"title,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Status       string   `json:"status"`
	Starts       int64    `json:"starts,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	Participants []string `json:"participants"`
}

type Lobby struct {
	Live    []LobbyRoom `json:"live"`
	Planned []LobbyRoom `json:"planned"`
}
