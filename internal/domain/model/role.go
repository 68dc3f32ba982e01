package model

// Roles carried in the external identity provider's token claims.
const (
	RoleOrganizer   = "organizer"
	RoleParticipant = "participant"
)
