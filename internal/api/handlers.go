package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/appointment"
	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
)

const dateLayout = "2006-01-02"

// endInclusive is the smallest step Postgres timestamps resolve.
const endInclusive = time.Microsecond

func createAvailabilityHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}

		var req CreateAvailabilityRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		coachID := uuid.MustParse(req.CoachID)

		slots, err := svc.CreateAvailability(r.Context(), actor, coachID, req.StartTime, req.EndTime)
		if err != nil {
			handleError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponses(slots))
	}
}

func listAvailabilityHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f appointment.SlotFilter
		if raw := r.URL.Query().Get("coach_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_coach_id", "coach_id must be a valid UUID")
				return
			}
			f.CoachID = &id
		}
		if !parseRange(w, r, &f.From, &f.To) {
			return
		}

		slots, err := svc.ListAvailability(r.Context(), f)
		if err != nil {
			handleError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func listCoachAvailabilityHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coachID, ok := pathID(w, r, "invalid_coach_id")
		if !ok {
			return
		}
		f := appointment.SlotFilter{CoachID: &coachID}
		if !parseRange(w, r, &f.From, &f.To) {
			return
		}

		slots, err := svc.ListAvailability(r.Context(), f)
		if err != nil {
			handleError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func deleteAvailabilityHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}
		slotID, ok := pathID(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		if err := svc.DeleteAvailability(r.Context(), actor, slotID); err != nil {
			handleError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}

		var req CreateAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		in := appointment.CreateAppointmentInput{
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			AppointmentType: req.AppointmentType,
			MeetingURL:      req.MeetingURL,
			Notes:           req.Notes,
			CoachIDs:        mustParseIDs(req.CoachIDs),
			AvailabilityIDs: mustParseIDs(req.AvailabilityIDs),
		}
		if len(in.CoachIDs) == 0 && req.CoachID != "" {
			in.CoachIDs = []uuid.UUID{uuid.MustParse(req.CoachID)}
		}
		if req.ClientID != nil {
			clientID := uuid.MustParse(*req.ClientID)
			in.ClientID = &clientID
		}

		d, err := svc.CreateAppointment(r.Context(), actor, in)
		if err != nil {
			handleError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(d))
	}
}

func listAppointmentsHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}

		var from, to *time.Time
		if !parseRange(w, r, &from, &to) {
			return
		}

		list, err := svc.ListAppointments(r.Context(), actor, from, to)
		if err != nil {
			handleError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func getAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		d, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			handleError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(d))
	}
}

func updateAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		out, err := svc.UpdateAppointment(r.Context(), actor, id, appointment.AppointmentPatch{
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			AppointmentType: req.AppointmentType,
			MeetingURL:      req.MeetingURL,
			Notes:           req.Notes,
		})
		if err != nil {
			handleError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(out.Appointment))
	}
}

type transitionFunc func(svc Scheduler, r *http.Request, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error)

func transitionHandler(svc Scheduler, log *zap.Logger, status int, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := identity.FromContext(r.Context())
		if err != nil {
			handleError(w, log, err)
			return
		}
		id, ok := pathID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		out, err := fn(svc, r, actor, id)
		if err != nil {
			handleError(w, log, err)
			return
		}

		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, toAppointmentResponse(out.Appointment))
	}
}

func approveAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, log, http.StatusOK, func(svc Scheduler, r *http.Request, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error) {
		return svc.ApproveAppointment(r.Context(), actor, id)
	})
}

func rejectAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, log, http.StatusOK, func(svc Scheduler, r *http.Request, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error) {
		return svc.RejectAppointment(r.Context(), actor, id)
	})
}

func cancelAppointmentHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc, log, http.StatusNoContent, func(svc Scheduler, r *http.Request, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error) {
		return svc.CancelAppointment(r.Context(), actor, id)
	})
}

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseRange reads start_date and end_date. Both accept RFC 3339 or a plain
// date. end_date is inclusive: a plain date covers that whole day and a
// timestamp includes that instant. Stores filter with an exclusive upper
// bound, so the returned to is already past end_date.
func parseRange(w http.ResponseWriter, r *http.Request, from, to **time.Time) bool {
	q := r.URL.Query()

	if raw := q.Get("start_date"); raw != "" {
		t, _, err := parseTimeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", err.Error())
			return false
		}
		*from = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, dateOnly, err := parseTimeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", err.Error())
			return false
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		} else {
			t = t.Add(endInclusive)
		}
		*to = &t
	}
	if *from != nil && *to != nil && !(*to).After(**from) {
		writeError(w, http.StatusBadRequest, "invalid_date_range", "end_date must be after start_date")
		return false
	}
	return true
}

func parseTimeParam(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	return t, true, nil
}

// mustParseIDs converts ids that already passed the uuid validate tag.
func mustParseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		ids = append(ids, uuid.MustParse(s))
	}
	return ids
}
