package appointment

import (
	"github.com/google/uuid"

	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
)

// canModify reports whether actor may update or cancel a: the owning
// client, the primary coach, or an administrator.
func canModify(actor identity.Actor, a *Appointment) bool {
	switch actor.Role {
	case identity.RoleAdmin:
		return true
	case identity.RoleClient:
		return a.ClientID == actor.ProfileID
	case identity.RoleCoach:
		return a.CoachID == actor.ProfileID
	}
	return false
}

// canView also admits every assigned coach.
func canView(actor identity.Actor, a *Appointment, coachIDs []uuid.UUID) bool {
	if actor.IsCoach() {
		return containsID(coachIDs, actor.ProfileID)
	}
	return canModify(actor, a)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// dedupeIDs drops repeats and uuid.Nil while keeping first-seen order.
func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
