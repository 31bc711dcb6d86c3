package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Options tunes a Directory. Zero values fall back to defaults.
type Options struct {
	TranscriptLimit int
	MaxRoomAge      time.Duration
}

// Directory maps room codes to live rooms and keeps the persisted store in
// step with every membership change.
// ARCHITECTURAL DISCOVERY: Two lock levels. mu guards only the code->room map
// and is never held across I/O; each Room serializes its own membership and
// transcript so unrelated rooms never contend.
type Directory struct {
	store    interfaces.RoomStore
	rejected *RejectedCodes
	codes    *CodeGenerator
	logger   zerolog.Logger
	opts     Options
	now      func() time.Time

	mu    sync.RWMutex
	rooms map[string]*Room

	// draining is set by Shutdown. From then on departures only touch memory.
	draining atomic.Bool
}

// Stats is a point-in-time summary for health reporting.
type Stats struct {
	Rooms         int `json:"rooms"`
	Students      int `json:"students"`
	RoomsWithHost int `json:"rooms_with_host"`
	RejectedCodes int `json:"rejected_codes"`
}

// NewDirectory creates an empty directory backed by store
func NewDirectory(store interfaces.RoomStore, logger zerolog.Logger, opts Options) *Directory {
	if opts.TranscriptLimit <= 0 {
		opts.TranscriptLimit = types.TranscriptLimit
	}
	if opts.MaxRoomAge <= 0 {
		opts.MaxRoomAge = 60 * time.Minute
	}
	return &Directory{
		store:    store,
		rejected: NewRejectedCodes(),
		codes:    NewCodeGenerator(),
		logger:   logger.With().Str("component", "room_directory").Logger(),
		opts:     opts,
		now:      time.Now,
		rooms:    make(map[string]*Room),
	}
}

// Rejected exposes the rejected-code set for admin cleanup and early rejects.
func (d *Directory) Rejected() *RejectedCodes {
	return d.rejected
}

// Get returns the resident room or nil.
func (d *Directory) Get(code string) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[code]
}

// Snapshot returns every resident room.
func (d *Directory) Snapshot() []*Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rooms := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (d *Directory) Stats() Stats {
	stats := Stats{RejectedCodes: d.rejected.Size()}
	for _, r := range d.Snapshot() {
		stats.Rooms++
		r.mu.Lock()
		stats.Students += len(r.students)
		if r.host != nil {
			stats.RoomsWithHost++
		}
		r.mu.Unlock()
	}
	return stats
}

// StudentCount returns the number of students in a resident room, 0 otherwise.
func (d *Directory) StudentCount(code string) int {
	if r := d.Get(code); r != nil {
		return r.StudentCount()
	}
	return 0
}

// ShouldReject reports whether a student join for code can be refused
// without touching the store: the code was confirmed absent before and no
// room with that code has since become resident.
func (d *Directory) ShouldReject(code string) bool {
	return d.rejected.Contains(code) && d.Get(code) == nil
}

// insertOrGet stores r unless a room with the same code is already resident,
// in which case the resident room wins.
func (d *Directory) insertOrGet(r *Room) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.rooms[r.code]; ok {
		return existing, false
	}
	d.rooms[r.code] = r
	metrics.RoomsActive.Set(float64(len(d.rooms)))
	return r, true
}

// remove deletes code only if it still maps to r.
func (d *Directory) remove(r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.rooms[r.code]; ok && current == r {
		delete(d.rooms, r.code)
		metrics.RoomsActive.Set(float64(len(d.rooms)))
	}
}

// codeTaken checks memory then the store. A store failure degrades to the
// memory answer; memory is authoritative for live rooms.
func (d *Directory) codeTaken(ctx context.Context, code string) (bool, error) {
	if d.Get(code) != nil {
		return true, nil
	}
	exists, err := d.store.RoomExists(ctx, code)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		d.logger.Warn().Err(err).Str("room_code", code).Msg("store lookup failed during code generation")
		metrics.StoreErrors.WithLabelValues("exists").Inc()
		return false, nil
	}
	return exists, nil
}

// Create allocates a fresh room with no members and persists it.
func (d *Directory) Create(ctx context.Context) (string, error) {
	// A concurrent host join may claim the generated code between the check
	// and the insert; generate again in that case.
	for attempt := 0; attempt < 3; attempt++ {
		code, err := d.codes.Generate(ctx, d.codeTaken)
		if err != nil {
			return "", err
		}

		r, inserted := d.insertOrGet(newRoom(code, d.now(), d.opts.TranscriptLimit))
		if !inserted {
			continue
		}

		r.mu.Lock()
		record := r.recordLocked()
		r.mu.Unlock()
		d.persist(ctx, record)

		d.logger.Info().Str("room_code", code).Msg("room created")
		return code, nil
	}
	return "", fmt.Errorf("%w: lost every race for a generated code", ErrExhaustedCodeSpace)
}

// Restore makes a persisted room resident. It reports false when the room
// exists nowhere.
func (d *Directory) Restore(ctx context.Context, code string) (bool, error) {
	if !types.IsValidRoomCode(code) {
		return false, ErrInvalidRoomCode
	}
	if d.Get(code) != nil {
		return true, nil
	}

	record, err := d.store.GetRoom(ctx, code)
	if errors.Is(err, interfaces.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("failed to load room %s: %w", code, err)
	}

	if _, inserted := d.insertOrGet(restoreRoom(record, d.opts.TranscriptLimit)); inserted {
		d.logger.Info().Str("room_code", code).Int("transcript", len(record.Transcript)).Msg("room restored from store")
	}
	return true, nil
}

// resolve finds or materializes the room a connection wants to join.
func (d *Directory) resolve(ctx context.Context, code string, role types.Role) (*Room, error) {
	if r := d.Get(code); r != nil {
		return r, nil
	}

	if role == types.RoleStudent && d.rejected.Contains(code) {
		return nil, ErrRoomNotFound
	}

	record, err := d.store.GetRoom(ctx, code)
	switch {
	case err == nil:
		r, inserted := d.insertOrGet(restoreRoom(record, d.opts.TranscriptLimit))
		if inserted {
			d.logger.Info().Str("room_code", code).Msg("room restored from store on join")
		}
		return r, nil

	case errors.Is(err, interfaces.ErrRoomNotFound):
		if role == types.RoleHost {
			r, inserted := d.insertOrGet(newRoom(code, d.now(), d.opts.TranscriptLimit))
			if inserted {
				d.logger.Info().Str("room_code", code).Msg("room created by host join")
			}
			return r, nil
		}
		d.rejected.Add(code)
		return nil, ErrRoomNotFound

	default:
		metrics.StoreErrors.WithLabelValues("get").Inc()
		d.logger.Warn().Err(err).Str("room_code", code).Msg("store lookup failed during join")
		if role == types.RoleHost {
			r, _ := d.insertOrGet(newRoom(code, d.now(), d.opts.TranscriptLimit))
			return r, nil
		}
		// Not confirmed absent, so the code is not remembered as rejected.
		return nil, ErrRoomNotFound
	}
}

// Join attaches conn to the room as host or student. The joiner receives
// room_joined and, for a student with a non-empty transcript, one
// transcript_history, both queued under the room lock so they precede any
// broadcast that follows the join.
func (d *Directory) Join(ctx context.Context, conn interfaces.Connection, code string, role types.Role) (*Room, error) {
	if !types.IsValidRoomCode(code) {
		return nil, ErrInvalidRoomCode
	}
	if role != types.RoleHost && role != types.RoleStudent {
		return nil, ErrInvalidRole
	}

	// A room destroyed between resolve and lock is retried once against
	// the fresh directory state.
	for attempt := 0; attempt < 2; attempt++ {
		r, err := d.resolve(ctx, code, role)
		if err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				metrics.RoomJoinsRejected.Inc()
			}
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		if err := conn.SetAssociation(code, role); err != nil {
			r.mu.Unlock()
			return nil, err
		}

		if role == types.RoleHost {
			r.host = conn
			d.sendLocked(conn, types.NewRoomJoined(code, true))
		} else {
			if !r.hasStudentLocked(conn) {
				r.students = append(r.students, conn)
			}
			d.sendLocked(conn, types.NewRoomJoined(code, false))
			if len(r.transcript) > 0 {
				d.sendLocked(conn, types.NewTranscriptHistory(r.transcript))
			}
		}
		record := r.recordLocked()
		r.mu.Unlock()

		d.persist(ctx, record)
		d.logger.Info().
			Str("room_code", code).
			Str("conn_id", conn.ID()).
			Str("role", string(role)).
			Int("students", record.StudentCount).
			Msg("joined room")
		return r, nil
	}

	return nil, ErrRoomNotFound
}

// Shutdown switches the directory to drain mode before a graceful stop.
// Connections closed afterwards leave their rooms in memory only: nothing is
// destroyed, nobody is notified and the store keeps every record, so a
// restart can restore the rooms with their transcripts.
func (d *Directory) Shutdown() {
	if d.draining.CompareAndSwap(false, true) {
		d.logger.Info().Int("rooms", len(d.Snapshot())).Msg("directory draining, store records kept")
	}
}

// Draining reports whether Shutdown has been called.
func (d *Directory) Draining() bool {
	return d.draining.Load()
}

// Leave detaches conn from its room. A host leaving destroys the room only
// if it is still the room's current host; a stale host connection that was
// replaced by a reconnect leaves the room alone.
func (d *Directory) Leave(ctx context.Context, conn interfaces.Connection) {
	code, role := conn.Association()
	if code == "" {
		return
	}
	r := d.Get(code)
	if r == nil {
		return
	}

	if d.draining.Load() {
		r.mu.Lock()
		if r.host == conn {
			r.host = nil
		} else {
			r.removeStudentLocked(conn)
		}
		r.mu.Unlock()
		return
	}

	switch role {
	case types.RoleHost:
		r.mu.Lock()
		current := r.host == conn
		r.mu.Unlock()
		if !current {
			d.logger.Debug().Str("room_code", code).Str("conn_id", conn.ID()).Msg("stale host left, room kept")
			return
		}
		// RACE CONDITION FIX: destroy re-checks under the room lock that the
		// host has not been replaced in the meantime.
		d.destroy(ctx, r, destroyHostLeft(conn))

	case types.RoleStudent:
		r.mu.Lock()
		removed := r.removeStudentLocked(conn)
		closed := r.closed
		record := r.recordLocked()
		r.mu.Unlock()
		if !removed || closed {
			return
		}
		d.persist(ctx, record)
		d.logger.Info().Str("room_code", code).Str("conn_id", conn.ID()).Int("students", record.StudentCount).Msg("student left room")
	}
}

// Replaced reports whether conn claims to host a live room that has since
// been taken over by another host connection.
func (d *Directory) Replaced(conn interfaces.Connection) bool {
	code, role := conn.Association()
	if role != types.RoleHost {
		return false
	}
	r := d.Get(code)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.host != conn
}

// AppendTranscript adds one recognized line to the room host belongs to,
// persists the new buffer and returns the students to broadcast to. Only
// the room's current host may append. The student snapshot is taken in the
// same critical section as the append.
func (d *Directory) AppendTranscript(ctx context.Context, host interfaces.Connection, entry types.TranscriptEntry) ([]interfaces.Connection, error) {
	code, _ := host.Association()
	r := d.Get(code)
	if r == nil {
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if r.host != host {
		r.mu.Unlock()
		return nil, ErrNotCurrentHost
	}
	r.transcript = types.AppendTranscript(r.transcript, entry, r.limit)
	students := append([]interfaces.Connection(nil), r.students...)
	record := r.recordLocked()
	r.mu.Unlock()

	err := d.store.UpdateTranscript(ctx, code, record.Transcript)
	if errors.Is(err, interfaces.ErrRoomNotFound) {
		// Rooms created while the store was unavailable have no record yet.
		d.persist(ctx, record)
	} else if err != nil {
		metrics.StoreErrors.WithLabelValues("update_transcript").Inc()
		d.logger.Warn().Err(err).Str("room_code", code).Msg("failed to persist transcript")
	}

	return students, nil
}

// ExpireRooms destroys every resident room older than the max room age.
// Age counts from creation; activity never renews it.
func (d *Directory) ExpireRooms(ctx context.Context, now time.Time) int {
	if d.draining.Load() {
		return 0
	}
	expired := 0
	for _, r := range d.Snapshot() {
		if now.Sub(r.createdAt) <= d.opts.MaxRoomAge {
			continue
		}
		if _, ok := d.destroy(ctx, r, destroyExpired()); ok {
			expired++
			d.logger.Info().Str("room_code", r.code).Dur("age", now.Sub(r.createdAt)).Msg("room expired")
		}
	}
	return expired
}

// Terminate removes a room on admin request and reports how many
// connections were closed. A room that exists only in the store is deleted
// there and reports zero.
func (d *Directory) Terminate(ctx context.Context, code string) (int, error) {
	if !types.IsValidRoomCode(code) {
		return 0, ErrInvalidRoomCode
	}

	if r := d.Get(code); r != nil {
		if closed, ok := d.destroy(ctx, r, destroyTerminated()); ok {
			return closed, nil
		}
	}

	exists, err := d.store.RoomExists(ctx, code)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("exists").Inc()
		return 0, fmt.Errorf("failed to check room %s: %w", code, err)
	}
	if !exists {
		return 0, ErrRoomNotFound
	}
	if err := d.store.DeleteRoom(ctx, code); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return 0, fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	d.logger.Info().Str("room_code", code).Msg("persisted-only room terminated")
	return 0, nil
}

// destroyPlan describes who is told what when a room goes away.
type destroyPlan struct {
	reason     string
	notice     types.Outbound
	notifyHost bool
	// onlyIfHost restricts destruction to the case where this connection is
	// still the current host.
	onlyIfHost interfaces.Connection
}

func destroyHostLeft(host interfaces.Connection) destroyPlan {
	return destroyPlan{reason: "host_left", notice: types.NewHostDisconnected(), onlyIfHost: host}
}

func destroyExpired() destroyPlan {
	return destroyPlan{reason: "expired", notice: types.NewRoomExpired(), notifyHost: true}
}

func destroyTerminated() destroyPlan {
	return destroyPlan{reason: "admin", notice: types.NewRoomTerminated(), notifyHost: true}
}

// destroy closes r once: notify and close its connections, drop it from
// memory, delete it from the store. Returns the number of connections
// closed and whether this call did the work.
func (d *Directory) destroy(ctx context.Context, r *Room, plan destroyPlan) (int, bool) {
	r.mu.Lock()
	if plan.onlyIfHost != nil && r.host != plan.onlyIfHost {
		r.mu.Unlock()
		return 0, false
	}
	host, students, ok := r.closeLocked()
	r.mu.Unlock()
	if !ok {
		return 0, false
	}

	d.remove(r)

	closed := 0
	for _, s := range students {
		if err := s.SendAndClose(plan.notice); err != nil {
			d.logger.Debug().Err(err).Str("conn_id", s.ID()).Msg("notice not delivered")
		}
		closed++
	}
	if plan.notifyHost && host != nil {
		if err := host.SendAndClose(plan.notice); err != nil {
			d.logger.Debug().Err(err).Str("conn_id", host.ID()).Msg("notice not delivered")
		}
		closed++
	}

	if err := d.store.DeleteRoom(ctx, r.code); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		d.logger.Warn().Err(err).Str("room_code", r.code).Msg("failed to delete room from store")
	}

	metrics.RoomsClosed.WithLabelValues(plan.reason).Inc()
	d.logger.Info().Str("room_code", r.code).Str("reason", plan.reason).Int("closed", closed).Msg("room destroyed")
	return closed, true
}

// persist writes a record, logging instead of failing: memory stays
// authoritative when the store is unavailable.
func (d *Directory) persist(ctx context.Context, record *types.RoomRecord) {
	if err := d.store.SaveRoom(ctx, record); err != nil {
		metrics.StoreErrors.WithLabelValues("save").Inc()
		d.logger.Warn().Err(err).Str("room_code", record.RoomCode).Msg("failed to persist room")
	}
}

func (d *Directory) sendLocked(conn interfaces.Connection, msg types.Outbound) {
	if err := conn.Send(msg); err != nil {
		d.logger.Debug().Err(err).Str("conn_id", conn.ID()).Str("type", msg.MessageType()).Msg("send failed")
	}
}
