package models

// Actor is the principal performing a request, with the request origin that
// audit entries record.
type Actor struct {
	ID        int64
	Type      string
	Email     string
	SourceIP  string
	UserAgent string
}

// SystemActor is used for work not triggered by an authenticated account.
func SystemActor() Actor {
	return Actor{Type: ActorSystem}
}

// ActorForUser builds the actor an account acts as.
func ActorForUser(u *User) Actor {
	return Actor{ID: u.ID, Type: ActorTypeForRole(u.Rol), Email: u.Email}
}

// IsAdministrator reports whether the actor may use administrative overrides.
func (a Actor) IsAdministrator() bool {
	return a.Type == ActorAdministrator
}

// Entry starts an audit entry for an action by a on one entity. An entityID
// of 0 leaves the entity unset.
func (a Actor) Entry(action, entityType string, entityID int64) *AuditEntry {
	e := &AuditEntry{
		ActorType:  a.Type,
		Action:     action,
		EntityType: entityType,
		SourceIP:   a.SourceIP,
		UserAgent:  a.UserAgent,
	}
	if a.ID != 0 {
		id := a.ID
		e.ActorID = &id
	}
	if entityID != 0 {
		e.EntityID = &entityID
	}
	if e.ActorType == "" {
		e.ActorType = ActorSystem
	}
	return e
}
