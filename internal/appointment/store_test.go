package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

// memState is the data behind memStore. Each transaction works on a copy
// and commits it back only if nothing it read has changed meanwhile, which
// mirrors the version and booked-flag guards of the Postgres queries.
type memState struct {
	clients      map[uuid.UUID]Client
	coaches      map[uuid.UUID]Coach
	slots        map[uuid.UUID]AvailabilitySlot
	appointments map[uuid.UUID]Appointment
	assignments  map[uuid.UUID][]Assignment
	events       []EventLog
	outbox       []notify.Event
}

func newMemState() *memState {
	return &memState{
		clients:      map[uuid.UUID]Client{},
		coaches:      map[uuid.UUID]Coach{},
		slots:        map[uuid.UUID]AvailabilitySlot{},
		appointments: map[uuid.UUID]Appointment{},
		assignments:  map[uuid.UUID][]Assignment{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.coaches {
		c.coaches[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = append([]Assignment(nil), v...)
	}
	c.events = append([]EventLog(nil), s.events...)
	c.outbox = append([]notify.Event(nil), s.outbox...)
	return c
}

type memStore struct {
	*memRepo

	mu sync.Mutex
	// onBegin runs after a transaction took its snapshot.
	onBegin func()
	// failEnqueue makes the outbox write fail inside transactions.
	failEnqueue error
}

func newMemStore() *memStore {
	st := &memStore{}
	st.memRepo = &memRepo{store: st, state: newMemState()}
	return st
}

func (st *memStore) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	st.mu.Lock()
	snapshot := st.memRepo.state.clone()
	st.mu.Unlock()

	tx := &memRepo{
		state:       snapshot,
		inTx:        true,
		readVersion: map[uuid.UUID]int64{},
		touched:     map[uuid.UUID]bool{},
		inserted:    map[uuid.UUID]bool{},
		booked:      map[uuid.UUID]bool{},
		deleted:     map[uuid.UUID]bool{},
		baseEvents:  len(snapshot.events),
		baseOutbox:  len(snapshot.outbox),
		failEnqueue: st.failEnqueue,
	}

	if st.onBegin != nil {
		st.onBegin()
	}

	if err := fn(tx); err != nil {
		return err
	}
	return st.commit(tx)
}

func (st *memStore) commit(tx *memRepo) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	live := st.memRepo.state

	for id, v := range tx.readVersion {
		if cur, ok := live.appointments[id]; !ok || cur.Version != v {
			return ErrStaleAppointment
		}
	}
	for id := range tx.booked {
		if cur, ok := live.slots[id]; !ok || cur.Booked {
			return ErrSlotBooked
		}
	}
	for id := range tx.deleted {
		if cur, ok := live.slots[id]; !ok || cur.Booked {
			return ErrSlotBooked
		}
	}

	for id := range tx.touched {
		live.appointments[id] = tx.state.appointments[id]
		live.assignments[id] = tx.state.assignments[id]
	}
	for id := range tx.booked {
		live.slots[id] = tx.state.slots[id]
	}
	for id := range tx.deleted {
		delete(live.slots, id)
	}
	for _, s := range tx.insertedSlots {
		live.slots[s] = tx.state.slots[s]
	}
	live.events = append(live.events, tx.state.events[tx.baseEvents:]...)
	live.outbox = append(live.outbox, tx.state.outbox[tx.baseOutbox:]...)
	return nil
}

// memRepo implements Repository over a memState. Outside a transaction it
// reads and writes the live state under the store mutex.
type memRepo struct {
	store *memStore
	state *memState

	inTx          bool
	readVersion   map[uuid.UUID]int64
	touched       map[uuid.UUID]bool
	inserted      map[uuid.UUID]bool
	booked        map[uuid.UUID]bool
	deleted       map[uuid.UUID]bool
	insertedSlots []uuid.UUID
	baseEvents    int
	baseOutbox    int
	failEnqueue   error
}

func (r *memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *memRepo) GetClientByID(_ context.Context, id uuid.UUID) (*Client, error) {
	defer r.lock()()
	c, ok := r.state.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (r *memRepo) GetCoachByID(_ context.Context, id uuid.UUID) (*Coach, error) {
	defer r.lock()()
	c, ok := r.state.coaches[id]
	if !ok {
		return nil, ErrCoachNotFound
	}
	return &c, nil
}

func (r *memRepo) InsertSlots(_ context.Context, slots []AvailabilitySlot) error {
	defer r.lock()()
	for _, s := range slots {
		r.state.slots[s.ID] = s
		r.insertedSlots = append(r.insertedSlots, s.ID)
	}
	return nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	defer r.lock()()
	s, ok := r.state.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) ListOpenSlots(_ context.Context, f SlotFilter) ([]AvailabilitySlot, error) {
	defer r.lock()()
	var out []AvailabilitySlot
	for _, s := range r.state.slots {
		if s.Booked {
			continue
		}
		if f.CoachID != nil && s.CoachID != *f.CoachID {
			continue
		}
		if f.From != nil && !s.EndTime.After(*f.From) {
			continue
		}
		if f.To != nil && !s.StartTime.Before(*f.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].CoachID.String() < out[j].CoachID.String()
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *memRepo) BookSlot(_ context.Context, id uuid.UUID) (bool, error) {
	defer r.lock()()
	s, ok := r.state.slots[id]
	if !ok || s.Booked {
		return false, nil
	}
	s.Booked = true
	r.state.slots[id] = s
	if r.inTx {
		r.booked[id] = true
	}
	return true, nil
}

func (r *memRepo) DeleteOpenSlot(_ context.Context, id uuid.UUID) (bool, error) {
	defer r.lock()()
	s, ok := r.state.slots[id]
	if !ok || s.Booked {
		return false, nil
	}
	delete(r.state.slots, id)
	if r.inTx {
		r.deleted[id] = true
	}
	return true, nil
}

func (r *memRepo) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	defer r.lock()()
	now := time.Now()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	r.state.appointments[a.ID] = a
	if r.inTx {
		r.touched[a.ID] = true
		r.inserted[a.ID] = true
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	defer r.lock()()
	cur, ok := r.state.appointments[a.ID]
	if !ok || cur.Version != a.Version {
		return nil, ErrStaleAppointment
	}
	if r.inTx && !r.inserted[a.ID] {
		if _, seen := r.readVersion[a.ID]; !seen {
			r.readVersion[a.ID] = cur.Version
		}
	}
	a.Version++
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = time.Now()
	r.state.appointments[a.ID] = a
	if r.inTx {
		r.touched[a.ID] = true
	}
	return &a, nil
}

func (r *memRepo) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.state.appointments {
		if f.ClientID != nil && a.ClientID != *f.ClientID {
			continue
		}
		if f.CoachID != nil && !r.assignedLocked(a.ID, *f.CoachID) {
			continue
		}
		if f.From != nil && a.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.ScheduledAt.Before(*f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

func (r *memRepo) assignedLocked(appointmentID, coachID uuid.UUID) bool {
	for _, as := range r.state.assignments[appointmentID] {
		if as.CoachID == coachID {
			return true
		}
	}
	return false
}

func (r *memRepo) InsertAssignments(_ context.Context, appointmentID uuid.UUID, coachIDs []uuid.UUID) error {
	defer r.lock()()
	for _, id := range coachIDs {
		if r.assignedLocked(appointmentID, id) {
			continue
		}
		r.state.assignments[appointmentID] = append(r.state.assignments[appointmentID], Assignment{
			AppointmentID: appointmentID,
			CoachID:       id,
			CreatedAt:     time.Now(),
		})
	}
	if r.inTx {
		r.touched[appointmentID] = true
	}
	return nil
}

func (r *memRepo) ListAssignedCoachIDs(_ context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error) {
	defer r.lock()()
	var ids []uuid.UUID
	for _, as := range r.state.assignments[appointmentID] {
		ids = append(ids, as.CoachID)
	}
	return ids, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	defer r.lock()()
	ev.ID = int64(len(r.state.events) + 1)
	r.state.events = append(r.state.events, ev)
	return nil
}

func (r *memRepo) EnqueueNotifications(_ context.Context, events []notify.Event) error {
	defer r.lock()()
	if r.failEnqueue != nil {
		return r.failEnqueue
	}
	r.state.outbox = append(r.state.outbox, events...)
	return nil
}

// Test helpers on the live state.

func (st *memStore) addClient(c Client) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.clients[c.ID] = c
}

func (st *memStore) addCoach(c Coach) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.coaches[c.ID] = c
}

func (st *memStore) appointment(id uuid.UUID) Appointment {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.appointments[id]
}

func (st *memStore) slot(id uuid.UUID) (AvailabilitySlot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.state.slots[id]
	return s, ok
}

func (st *memStore) outboxEvents() []notify.Event {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]notify.Event(nil), st.state.outbox...)
}

func (st *memStore) eventTypes() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []string
	for _, ev := range st.state.events {
		out = append(out, ev.EventType)
	}
	return out
}
