package models

type Permissions struct {
	CanMuteOthers         bool `json:"canMuteOthers"`
	CanRemoveParticipants bool `json:"canRemoveParticipants"`
	CanManageRoles        bool `json:"canManageRoles"`
	CanShareScreen        bool `json:"canShareScreen"`
	CanShareFiles         bool `json:"canShareFiles"`
	CanUseWhiteboard      bool `json:"canUseWhiteboard"`
	CanChat               bool `json:"canChat"`
	CanRecord             bool `json:"canRecord"`
}

type PermissionsPatch struct {
	CanMuteOthers         *bool `json:"canMuteOthers,omitempty"`
	CanRemoveParticipants *bool `json:"canRemoveParticipants,omitempty"`
	CanManageRoles        *bool `json:"canManageRoles,omitempty"`
	CanShareScreen        *bool `json:"canShareScreen,omitempty"`
	CanShareFiles         *bool `json:"canShareFiles,omitempty"`
	CanUseWhiteboard      *bool `json:"canUseWhiteboard,omitempty"`
	CanChat               *bool `json:"canChat,omitempty"`
	CanRecord             *bool `json:"canRecord,omitempty"`
}

func (p *Permissions) Merge(patch PermissionsPatch) {
	mergeBool(&p.CanMuteOthers, patch.CanMuteOthers)
	mergeBool(&p.CanRemoveParticipants, patch.CanRemoveParticipants)
	mergeBool(&p.CanManageRoles, patch.CanManageRoles)
	mergeBool(&p.CanShareScreen, patch.CanShareScreen)
	mergeBool(&p.CanShareFiles, patch.CanShareFiles)
	mergeBool(&p.CanUseWhiteboard, patch.CanUseWhiteboard)
	mergeBool(&p.CanChat, patch.CanChat)
	mergeBool(&p.CanRecord, patch.CanRecord)
}

var fullControl = Permissions{
	CanMuteOthers:         true,
	CanRemoveParticipants: true,
	CanManageRoles:        true,
	CanShareScreen:        true,
	CanShareFiles:         true,
	CanUseWhiteboard:      true,
	CanChat:               true,
	CanRecord:             true,
}

// PermissionsFor returns the fixed template for a role.
func PermissionsFor(r Role) Permissions {
	switch r {
	case RoleHost, RoleModerator:
		return fullControl
	case RoleParticipant:
		return Permissions{
			CanShareScreen:   true,
			CanShareFiles:    true,
			CanUseWhiteboard: true,
			CanChat:          true,
		}
	default:
		// guests watch and listen
		return Permissions{CanChat: true}
	}
}
