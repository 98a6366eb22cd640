package channel

import (
	"context"

	"github.com/lalithlochan/taskbell/internal/db"
)

// Feed is the in-app feed. The row written by the create path is the
// delivery, so this channel only reports it.
type Feed struct{}

func NewFeed() *Feed { return &Feed{} }

func (*Feed) Name() string { return NameFeed }

func (*Feed) Deliver(_ context.Context, _ *db.Notification) Result {
	return Ok(NameFeed)
}
