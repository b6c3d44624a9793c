package gateway

import (
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	roomsPageDefault    int = 1
	roomsPerPageDefault int = 50
)

// Room is the persisted record of one room channel: plain metadata for
// the listing API, never consulted by the signaling path.
type Room struct {
	ID                int64     `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	ParticipantsCount int       `json:"participants_count" db:"participants_count"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type ActiveRooms struct {
	Rooms      []*Room `json:"rooms"`
	TotalPages int     `json:"total_pages"`
}

type RoomsDBStorer interface {
	Touch(name string) error
	Leave(name string) error
	GetAll(page int, perPage int) (*ActiveRooms, error)
}

type RoomsRepository struct {
	db *sqlx.DB
}

func NewRoomsRepository(db *sqlx.DB) RoomsDBStorer {
	return &RoomsRepository{
		db: db,
	}
}

// Touch registers one more participant on the room, creating the record
// on first sighting.
func (r *RoomsRepository) Touch(name string) error {
	_, err := r.db.Exec(
		`INSERT INTO rooms (name, participants_count, created_at, updated_at)
		 VALUES ($1, 1, now(), now())
		 ON CONFLICT (name) DO UPDATE
		 SET participants_count = rooms.participants_count + 1, updated_at = now()`,
		name,
	)
	return err
}

func (r *RoomsRepository) Leave(name string) error {
	_, err := r.db.Exec(
		`UPDATE rooms
		 SET participants_count = GREATEST(participants_count - 1, 0), updated_at = now()
		 WHERE name = $1`,
		name,
	)
	return err
}

func (r *RoomsRepository) GetAll(page int, perPage int) (*ActiveRooms, error) {
	if page == 0 {
		page = roomsPageDefault
	}
	if perPage == 0 {
		perPage = roomsPerPageDefault
	}

	active := &ActiveRooms{}

	var total int
	err := r.db.Get(&total, `SELECT COUNT(*) FROM rooms WHERE participants_count > 0`)
	if err != nil {
		return nil, err
	}
	active.TotalPages = int(math.Ceil(float64(total) / float64(perPage)))

	rooms := []*Room{}
	err = r.db.Select(&rooms,
		`SELECT
			id,
			name,
			participants_count,
			created_at,
			updated_at
		FROM rooms
		WHERE participants_count > 0
		ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, err
	}
	active.Rooms = rooms

	return active, nil
}
