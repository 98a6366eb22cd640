package mention

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/notify"
)

// Actor is the author of the comment.
type Actor struct {
	ID        string
	Name      string
	Handle    string
	AvatarURL string
}

// displayName falls back to the handle and then to a neutral word so the
// message always reads.
func (a Actor) displayName() string {
	if n := strings.TrimSpace(a.Name); n != "" {
		return n
	}
	if h := strings.TrimSpace(a.Handle); h != "" {
		return "@" + strings.TrimPrefix(h, "@")
	}
	return "Someone"
}

// Target is the comment the mention lives in.
type Target struct {
	TaskID    string
	TaskTitle string
	CommentID string
}

type Options struct {
	// TaskResource is the first path segment of the deep link.
	TaskResource string
	// MaxPreview is the preview budget in runes.
	MaxPreview int
}

// Mention is a rendered comment_mention notification, ready to be sent to
// any number of recipients.
type Mention struct {
	Message string
	Data    notify.CommentMentionData
}

// Build renders the message and payload for a mention. It does no I/O and
// never fails; malformed content degrades to FallbackPreview.
func Build(content string, actor Actor, target Target, opts Options) Mention {
	resource := strings.Trim(opts.TaskResource, "/")
	if resource == "" {
		resource = "tasks"
	}

	preview := Preview(content, opts.MaxPreview)
	name := actor.displayName()

	return Mention{
		Message: fmt.Sprintf("%s mentioned you in a comment on \"%s\"", name, target.TaskTitle),
		Data: notify.CommentMentionData{
			TaskID:    target.TaskID,
			CommentID: target.CommentID,
			Preview:   preview,
			Actor: notify.ActorRef{
				ID:        actor.ID,
				Name:      name,
				Handle:    actor.Handle,
				AvatarURL: actor.AvatarURL,
			},
			Link: fmt.Sprintf("/%s/%s#comment-%s", resource, target.TaskID, target.CommentID),
			Push: notify.PushContent{
				Title: name + " mentioned you",
				Body:  preview,
			},
		},
	}
}

// Input addresses the mention to one user.
func (m Mention) Input(userID string) (notify.CreateInput, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return notify.CreateInput{}, fmt.Errorf("encoding mention payload: %w", err)
	}
	return notify.CreateInput{
		Type:      db.TypeCommentMention,
		Message:   m.Message,
		Recipient: db.UserRecipient(userID),
		Data:      data,
	}, nil
}

// MentionAttr marks an inline mention in editor output, e.g.
// <span data-mention-id="42">@ana</span>.
const MentionAttr = "data-mention-id"

// ExtractMentions returns the user ids tagged in content, in order of
// first appearance.
func ExtractMentions(content string) []string {
	z := html.NewTokenizer(strings.NewReader(content))

	var ids []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return ids
			}
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		_, hasAttr := z.TagName()
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			if string(key) == MentionAttr {
				if id := strings.TrimSpace(string(val)); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// Recipients merges id lists, dropping blanks, duplicates and the author.
func Recipients(authorID string, lists ...[]string) []string {
	seen := map[string]bool{authorID: true}
	var out []string
	for _, list := range lists {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
