package model

import (
	"errors"
	"time"
)

// Follow is a directed edge (follower -> followee). Edges are stored exactly
// once; "followers of X" and "following of X" are both derived from this set
// by indexed queries, so the two directions can never fall out of sync.
type Follow struct {
	FollowerID int64     `db:"follower_id" json:"follower_id"`
	FolloweeID int64     `db:"followee_id" json:"followee_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

var (
	ErrAlreadyFollowing = errors.New("already following this user")
	ErrNotFollowing     = errors.New("not following this user")
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)
