package domain

import "time"

// RoomName is the grant-scoped name of a room.
type RoomName string

type Room struct {
	Name      RoomName
	CreatedAt time.Time
}
