package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	participantColumns = "room_id, pubkey, is_admin, is_speaker, created_at, updated_at"

	// createParticipantQuery is the only statement that writes is_admin.
	createParticipantQuery = "INSERT INTO participants (" + participantColumns + ") VALUES (?, ?, ?, ?, ?, ?)"
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (Participant, error) {
	var (
		p                    Participant
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.RoomId,
		&p.Pubkey,
		&p.IsAdmin,
		&p.IsSpeaker,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Participant{}, err
	}

	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (db *SqlNestsRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	_, err = tx.ExecContext(
		ctx,
		db.rebind("INSERT INTO rooms (id, created_by, created_at) VALUES (?, ?, ?)"),
		params.Id,
		params.CreatedBy,
		toMillis(now),
	)
	if err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		db.rebind(createParticipantQuery),
		params.Id,
		params.CreatedBy,
		true,
		true,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return Room{}, fmt.Errorf("insert creator: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return Room{
		Id:        params.Id,
		CreatedBy: params.CreatedBy,
		CreatedAt: fromMillis(toMillis(now)),
	}, nil
}

func (db *SqlNestsRepository) GetRoom(ctx context.Context, roomId string) (Room, error) {
	row := db.conn.QueryRowContext(
		ctx,
		db.rebind("SELECT id, created_by, created_at FROM rooms WHERE id = ? LIMIT 1"),
		roomId,
	)

	var (
		room      Room
		createdAt int64
	)
	if err := row.Scan(&room.Id, &room.CreatedBy, &createdAt); err != nil {
		return Room{}, notFound(err)
	}
	room.CreatedAt = fromMillis(createdAt)

	return room, nil
}

func (db *SqlNestsRepository) GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error) {
	room, err := db.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(
		ctx,
		db.rebind("SELECT "+participantColumns+" FROM participants WHERE room_id = ? ORDER BY created_at, pubkey"),
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}
	defer rows.Close()

	room.Participants = make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		room.Participants = append(room.Participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &room, nil
}

func (db *SqlNestsRepository) GetParticipant(ctx context.Context, roomId, pubkey string) (Participant, error) {
	row := db.conn.QueryRowContext(
		ctx,
		db.rebind("SELECT "+participantColumns+" FROM participants WHERE room_id = ? AND pubkey = ? LIMIT 1"),
		roomId,
		pubkey,
	)

	p, err := scanParticipant(row)
	if err != nil {
		return Participant{}, notFound(err)
	}

	return p, nil
}

func (db *SqlNestsRepository) UpsertParticipant(ctx context.Context, roomId, pubkey string) (Participant, error) {
	if _, err := db.GetRoom(ctx, roomId); err != nil {
		return Participant{}, err
	}

	now := toMillis(time.Now())
	_, err := db.conn.ExecContext(
		ctx,
		db.rebind("INSERT INTO participants ("+participantColumns+") VALUES (?, ?, FALSE, FALSE, ?, ?) "+
			"ON CONFLICT (room_id, pubkey) DO NOTHING"),
		roomId,
		pubkey,
		now,
		now,
	)
	if err != nil {
		return Participant{}, fmt.Errorf("insert participant: %w", err)
	}

	return db.GetParticipant(ctx, roomId, pubkey)
}

func (db *SqlNestsRepository) SetSpeaker(ctx context.Context, roomId, pubkey string, isSpeaker bool) (Participant, error) {
	row := db.conn.QueryRowContext(
		ctx,
		db.rebind("UPDATE participants SET is_speaker = ?, updated_at = ? "+
			"WHERE room_id = ? AND pubkey = ? RETURNING "+participantColumns),
		isSpeaker,
		toMillis(time.Now()),
		roomId,
		pubkey,
	)

	p, err := scanParticipant(row)
	if err != nil {
		return Participant{}, notFound(err)
	}

	return p, nil
}
