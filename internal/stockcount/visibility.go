package stockcount

// Viewer is the caller a read is performed for.
type Viewer struct {
	UserID           int64
	SystemAdmin      bool
	InventoryManager bool
}

// Visibility restricts which sessions a caller can read.
type Visibility struct {
	Unrestricted bool
	UserID       int64
}

// EffectiveVisibility returns the filter every session read applies for the viewer.
// Administrators and inventory managers see everything; everyone else sees the
// sessions they own or attend.
func EffectiveVisibility(v Viewer) Visibility {
	if v.SystemAdmin || v.InventoryManager {
		return Visibility{Unrestricted: true}
	}
	return Visibility{UserID: v.UserID}
}

// Allows reports whether the session passes the filter.
func (v Visibility) Allows(s *Session) bool {
	if v.Unrestricted {
		return true
	}
	return s.OwnerID == v.UserID || s.IsAttendee(v.UserID)
}
