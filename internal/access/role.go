package access

import (
	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/token"
)

// Role is a participant's standing in a room. The admin bit can only be
// produced by room creation or read back from the participant the creation
// stored; nothing in this package can grant it to anyone else.
type Role struct {
	admin   bool
	speaker bool
	hidden  bool
}

func creatorRole() Role {
	return Role{admin: true, speaker: true}
}

func guestRole() Role {
	return Role{hidden: true}
}

func participantRole(p database.Participant) Role {
	return Role{admin: p.IsAdmin, speaker: p.IsSpeaker}
}

func (r Role) IsAdmin() bool   { return r.admin }
func (r Role) IsSpeaker() bool { return r.speaker }

// IsHidden reports whether the holder is kept out of presence and roster
// views. Only guests are hidden.
func (r Role) IsHidden() bool { return r.hidden }

func (r Role) permissions() token.Permissions {
	return token.Permissions{
		Admin:   r.admin,
		Speaker: r.speaker,
		Hidden:  r.hidden,
	}
}
